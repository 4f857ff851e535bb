package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/persistence"
	"github.com/BaSui01/agentgraph/types"
)

// =============================================================================
// Executor Contract
// =============================================================================

// RunContext carries the per-invocation context handed to the executor.
type RunContext struct {
	RunID            string
	WorkflowID       string
	Deadline         time.Time
	CompletedParents []string
}

// Executor performs one agent invocation. Implementations must honor ctx
// cancellation and are expected to fold timeouts and transport faults into a
// failed Outcome; a returned error is treated the same as a failed Outcome
// with no output.
type Executor interface {
	Invoke(ctx context.Context, cfg types.AgentConfig, rc RunContext) (Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, cfg types.AgentConfig, rc RunContext) (Outcome, error)

// Invoke implements Executor.
func (f ExecutorFunc) Invoke(ctx context.Context, cfg types.AgentConfig, rc RunContext) (Outcome, error) {
	return f(ctx, cfg, rc)
}

// CleanupFunc releases per-run external resources (sandboxes, sessions).
// The engine calls it exactly once per run, on the first terminal transition.
type CleanupFunc func(runID string)

// ApprovalNotifier is told when a run pauses for operator review, in addition
// to the ApprovalRequested event. Implementations must not block.
type ApprovalNotifier interface {
	ApprovalRequested(runID string, snap types.RunSnapshot)
}

// =============================================================================
// Engine Options
// =============================================================================

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSink sets the lifecycle event sink.
func WithSink(sink Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithMetrics sets the metrics collector. Nil disables metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithCleanup sets the per-run resource cleanup hook.
func WithCleanup(fn CleanupFunc) Option {
	return func(e *Engine) { e.cleanup = fn }
}

// WithNamePolicy sets the identifier policy enforced on delegated nodes.
func WithNamePolicy(p NamePolicy) Option {
	return func(e *Engine) { e.namePolicy = p }
}

// WithApprovalNotifier sets the pause notifier.
func WithApprovalNotifier(n ApprovalNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithValidator sets the output validator used by the circuit breaker.
func WithValidator(v OutputValidator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithArtifactStore enables offloading agent outputs to an artifact store,
// referenced from the invocation log by artifact id.
func WithArtifactStore(s persistence.ArtifactStore) Option {
	return func(e *Engine) { e.artifacts = s }
}

// WithMaxConcurrent bounds the number of agent invocations in flight across
// all runs. Zero or negative means the default of 16.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrent = int64(n)
		}
	}
}

// WithDispatchRate rate-limits dispatches across all runs, protecting the
// model provider from thundering herds after a wide delegation.
func WithDispatchRate(r rate.Limit, burst int) Option {
	return func(e *Engine) {
		if r > 0 && burst > 0 {
			e.limiter = rate.NewLimiter(r, burst)
		}
	}
}

// WithInvocationTimeout sets the per-invocation deadline. Zero or negative
// means the default of 5 minutes.
func WithInvocationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.invocationTimeout = d
		}
	}
}

// WithRunRetention sets how long a terminal run stays queryable in process
// before it is evicted from the run table. The persisted snapshot remains
// reachable through the store after eviction. Zero or negative means the
// default of 15 minutes.
func WithRunRetention(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.runRetention = d
		}
	}
}

// =============================================================================
// Engine
// =============================================================================

// Engine is the scheduler at the core of the kernel. It walks each run's
// dependency graph, dispatches ready nodes to the executor under a global
// concurrency bound, classifies every outcome through the circuit breaker,
// and applies delegation requests atomically between dispatch rounds.
//
// All mutation of a run's graph, registry, and state happens while holding
// that run's transaction lock, so concurrent completions are serialized and
// every observer sees only committed states.
type Engine struct {
	executor Executor
	store    persistence.RunStore

	artifacts  persistence.ArtifactStore
	sink       Sink
	metrics    *metrics.Collector
	cleanup    CleanupFunc
	notifier   ApprovalNotifier
	namePolicy NamePolicy
	validator  OutputValidator
	logger     *zap.Logger
	tracer     trace.Tracer

	breaker  *CircuitBreaker
	protocol *DelegationProtocol

	sem               *semaphore.Weighted
	limiter           *rate.Limiter
	maxConcurrent     int64
	invocationTimeout time.Duration
	runRetention      time.Duration

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.RWMutex
	runs map[string]*run
}

// run is the per-run scheduling unit. Its mutex is the transaction boundary:
// graph, registry, and state mutations, persistence checkpoints, and event
// emission for one outcome all happen while it is held.
type run struct {
	id       string
	workflow types.WorkflowConfig
	graph    *Graph
	registry *Registry
	state    *RunState

	mu          sync.Mutex
	wake        chan struct{}
	inflight    int
	cleanupOnce sync.Once
	cancel      context.CancelFunc
}

// wakeLoop nudges the run loop without blocking; a pending nudge is enough.
func (r *run) wakeLoop() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// releaseWhenDrained cancels the run context once the last in-flight
// invocation has settled after a terminal transition. The context must stay
// alive until then: in-flight invocations are drained, never force-cancelled
// by the kernel. Caller holds r.mu.
func (r *run) releaseWhenDrained() {
	if r.inflight == 0 {
		r.cancel()
	}
}

// NewEngine creates an engine. A nil store falls back to an in-memory store.
func NewEngine(executor Executor, store persistence.RunStore, opts ...Option) *Engine {
	e := &Engine{
		executor:          executor,
		store:             store,
		sink:              NopSink{},
		logger:            zap.NewNop(),
		maxConcurrent:     16,
		invocationTimeout: 5 * time.Minute,
		runRetention:      15 * time.Minute,
		runs:              make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = persistence.NewMemoryRunStore()
	}
	e.logger = e.logger.With(zap.String("component", "engine"))
	e.tracer = otel.Tracer("github.com/BaSui01/agentgraph/workflow")
	e.breaker = NewCircuitBreaker(e.validator)
	e.protocol = NewDelegationProtocol(e.namePolicy, e.logger)
	e.sem = semaphore.NewWeighted(e.maxConcurrent)
	e.baseCtx, e.stop = context.WithCancel(context.Background())
	return e
}

// StartWorkflow instantiates a run from the workflow template, checkpoints
// it, and starts the scheduling loop. Returns the new run id.
func (e *Engine) StartWorkflow(ctx context.Context, wf types.WorkflowConfig) (string, error) {
	if err := wf.Validate(); err != nil {
		return "", err
	}

	graph := NewGraph()
	for _, agent := range wf.Agents {
		if err := graph.AddNode(agent.ID); err != nil {
			return "", err
		}
	}
	for _, agent := range wf.Agents {
		for _, dep := range agent.DependsOn {
			if err := graph.AddEdge(dep, agent.ID); err != nil {
				return "", err
			}
		}
	}

	runID := uuid.New().String()
	state := NewRunState(runID, wf.ID)
	if err := state.SetStatus(types.RunRunning, ""); err != nil {
		return "", err
	}

	snap := state.Snapshot()
	if err := e.store.SaveRun(ctx, &snap); err != nil {
		return "", types.NewError(types.ErrStorage, "checkpoint new run").WithCause(err)
	}

	runCtx, cancel := context.WithCancel(e.baseCtx)
	r := &run{
		id:       runID,
		workflow: wf,
		graph:    graph,
		registry: NewRegistry(wf.Agents),
		state:    state,
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
	}

	e.mu.Lock()
	e.runs[runID] = r
	e.mu.Unlock()

	e.metrics.RunStarted()
	e.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("workflow_id", wf.ID),
		zap.Int("agents", len(wf.Agents)),
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runLoop(runCtx, r)
	}()
	return runID, nil
}

// runLoop is the scheduling loop of one run: dispatch every ready node, wait
// for a wake-up, repeat until the run reaches a terminal status.
func (e *Engine) runLoop(ctx context.Context, r *run) {
	for {
		r.mu.Lock()
		status := r.state.Status()
		if status.Terminal() {
			r.mu.Unlock()
			return
		}

		if status == types.RunRunning {
			ready := e.readyNodes(r)
			if len(ready) == 0 && r.inflight == 0 {
				e.completeRun(ctx, r)
				r.mu.Unlock()
				return
			}
			for _, id := range ready {
				if err := r.state.MarkActive(id); err != nil {
					e.logger.Error("mark active failed",
						zap.String("run_id", r.id), zap.String("agent_id", id), zap.Error(err))
					continue
				}
				r.inflight++
				e.wg.Add(1)
				go func(agentID string) {
					defer e.wg.Done()
					e.dispatch(ctx, r, agentID)
				}(id)
			}
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
	}
}

// readyNodes returns nodes with no disposition yet whose parents are all
// satisfied (completed or skipped). Caller holds r.mu.
func (e *Engine) readyNodes(r *run) []string {
	var ready []string
	for _, id := range r.graph.NodeIDs() {
		if r.state.Known(id) {
			continue
		}
		satisfied := true
		for _, parent := range r.graph.Parents(id) {
			if !r.state.DependencySatisfied(parent) {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// completeRun finishes a run whose nodes have all settled. Caller holds r.mu.
func (e *Engine) completeRun(ctx context.Context, r *run) {
	if err := r.state.SetStatus(types.RunCompleted, ""); err != nil {
		e.logger.Error("complete transition failed", zap.String("run_id", r.id), zap.Error(err))
		return
	}
	if err := e.checkpoint(ctx, r); err != nil {
		// The run did complete; a lost final checkpoint is logged, not fatal.
		e.logger.Error("final checkpoint failed", zap.String("run_id", r.id), zap.Error(err))
	}
	snap := r.state.Snapshot()
	e.sink.Emit(newEvent(r.id, EventRunCompleted, "", snap))
	e.metrics.RunFinished(string(types.RunCompleted))
	e.runCleanup(r)
	r.cancel()
	e.scheduleEviction(r.id)
	e.logger.Info("run completed",
		zap.String("run_id", r.id),
		zap.Int("invocations", len(snap.Invocations)),
		zap.Int("tokens_used", snap.TotalTokensUsed),
	)
}

// dispatch performs one agent invocation outside the transaction lock, then
// hands the outcome to handleOutcome.
func (e *Engine) dispatch(ctx context.Context, r *run, agentID string) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			e.abandonDispatch(r, agentID)
			return
		}
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.abandonDispatch(r, agentID)
		return
	}
	defer e.sem.Release(1)

	cfg, ok := r.registry.Lookup(agentID)
	if !ok {
		e.handleOutcome(ctx, r, Outcome{
			AgentID: agentID,
			Err:     fmt.Sprintf("no configuration registered for node %q", agentID),
		})
		return
	}

	r.mu.Lock()
	if r.state.Status().Terminal() {
		// The run settled between MarkActive and this point; drained
		// invocations finish, but new ones must not start.
		r.mu.Unlock()
		e.abandonDispatch(r, agentID)
		return
	}
	var parents []string
	for _, p := range r.graph.Parents(agentID) {
		if r.state.IsCompleted(p) {
			parents = append(parents, p)
		}
	}
	r.mu.Unlock()

	e.sink.Emit(newEvent(r.id, EventAgentStarted, agentID, nil))

	ictx, cancel := context.WithTimeout(ctx, e.invocationTimeout)
	defer cancel()
	ictx, span := e.tracer.Start(ictx, "agent.invoke",
		trace.WithAttributes(
			attribute.String("run.id", r.id),
			attribute.String("agent.id", agentID),
			attribute.String("agent.model", cfg.Model.String()),
		))

	deadline, _ := ictx.Deadline()
	start := time.Now()
	outcome, err := e.executor.Invoke(ictx, cfg, RunContext{
		RunID:            r.id,
		WorkflowID:       r.workflow.ID,
		Deadline:         deadline,
		CompletedParents: parents,
	})
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome = Outcome{AgentID: agentID, Succeeded: false, Err: err.Error()}
	}
	span.End()

	outcome.AgentID = agentID
	if outcome.Latency == 0 {
		outcome.Latency = elapsed
	}
	e.handleOutcome(ctx, r, outcome)
}

// abandonDispatch backs out an in-flight slot when the invocation never
// began: the engine is shutting down, or the run turned terminal first.
func (e *Engine) abandonDispatch(r *run, agentID string) {
	r.mu.Lock()
	r.inflight--
	if r.state.Status().Terminal() {
		r.releaseWhenDrained()
	}
	r.mu.Unlock()
	e.logger.Debug("dispatch abandoned",
		zap.String("run_id", r.id), zap.String("agent_id", agentID))
	r.wakeLoop()
}

// handleOutcome is the serialized completion transaction: classification,
// optional delegation, state transition, checkpoint, and event emission all
// happen while holding the run's lock. Outcomes that land after the run has
// already reached a terminal status are appended to the log for audit
// completeness but trigger no scheduling.
func (e *Engine) handleOutcome(ctx context.Context, r *run, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.wakeLoop()
	r.inflight--

	cfg, _ := r.registry.Lookup(o.AgentID)
	decision := e.breaker.Classify(o)
	e.metrics.InvocationObserved(string(decision.Class), o.Latency, o.TokensUsed)

	if r.state.Status().Terminal() {
		inv := e.invocation(o, cfg, statusFor(decision.Action), decision.Reason, "")
		r.state.AppendInvocation(inv)
		e.logger.Info("outcome drained after terminal status",
			zap.String("run_id", r.id),
			zap.String("agent_id", o.AgentID),
			zap.String("class", string(decision.Class)),
		)
		r.releaseWhenDrained()
		return
	}

	switch decision.Action {
	case ActionContinue:
		e.handleContinue(ctx, r, o, cfg)
	case ActionPause:
		e.handlePause(ctx, r, o, cfg, decision)
	default:
		e.failRun(ctx, r, o, cfg, decision.Reason)
	}
}

// handleContinue commits a successful outcome: delegation first (so the new
// sub-graph is visible before the parent is marked completed), then the
// log entry, checkpoint, and events. Caller holds r.mu.
func (e *Engine) handleContinue(ctx context.Context, r *run, o Outcome, cfg types.AgentConfig) {
	e.applyDelegation(r, o, cfg)

	artifactID := e.storeArtifact(ctx, r, o)

	if err := r.state.MarkCompleted(o.AgentID); err != nil {
		e.logger.Error("mark completed failed",
			zap.String("run_id", r.id), zap.String("agent_id", o.AgentID), zap.Error(err))
		return
	}
	r.state.AppendInvocation(e.invocation(o, cfg, types.InvocationSuccess, "", artifactID))

	if err := e.checkpoint(ctx, r); err != nil {
		// The Success entry above stands; failRun appends a second entry for
		// the same invocation marking the escalation, as a correction, not a
		// re-execution.
		e.failRun(ctx, r, o, cfg, fmt.Sprintf("checkpoint failed after invocation was recorded: %v", err))
		return
	}
	e.sink.Emit(newEvent(r.id, EventAgentCompleted, o.AgentID, map[string]any{
		"tokens_used": o.TokensUsed,
		"latency_ms":  o.Latency.Milliseconds(),
		"artifact_id": artifactID,
	}))
}

// applyDelegation extracts and applies a delegation block from a successful
// outcome. Rejection voids the request and is reported, never fatal. Caller
// holds r.mu.
func (e *Engine) applyDelegation(r *run, o Outcome, cfg types.AgentConfig) {
	text := outputText(o.Output)
	if text == "" || !HasDelegation(text) {
		return
	}

	req, err := ExtractDelegation(text)
	if err != nil || req == nil {
		// The validator vets delegation blocks before Continue is possible,
		// so a parse failure here means a non-default validator let it by.
		e.logger.Warn("delegation block unparseable at apply time",
			zap.String("run_id", r.id), zap.String("agent_id", o.AgentID), zap.Error(err))
		return
	}

	if !cfg.AllowDelegation {
		e.metrics.DelegationObserved(false)
		e.sink.Emit(newEvent(r.id, EventGraphMutated, o.AgentID, map[string]any{
			"accepted": false,
			"reason":   "agent is not permitted to delegate",
		}))
		e.logger.Warn("delegation ignored: agent not permitted",
			zap.String("run_id", r.id), zap.String("agent_id", o.AgentID))
		return
	}

	mutation, audits, err := e.protocol.Apply(r.graph, r.registry, r.state, o.AgentID, req)
	r.state.AppendAudit(audits...)
	e.metrics.DelegationObserved(err == nil)
	if err != nil {
		e.sink.Emit(newEvent(r.id, EventGraphMutated, o.AgentID, map[string]any{
			"accepted": false,
			"reason":   err.Error(),
			"audits":   audits,
		}))
		return
	}
	e.sink.Emit(newEvent(r.id, EventGraphMutated, o.AgentID, map[string]any{
		"accepted": true,
		"mutation": mutation,
		"audits":   audits,
	}))
	for _, id := range mutation.AddedNodes {
		e.sink.Emit(newEvent(r.id, EventNodeCreated, id, map[string]any{
			"delegated_by": o.AgentID,
		}))
	}
}

// handlePause parks the node and the run for operator review. Caller holds
// r.mu.
func (e *Engine) handlePause(ctx context.Context, r *run, o Outcome, cfg types.AgentConfig, d Decision) {
	if err := r.state.MarkPaused(o.AgentID); err != nil {
		e.logger.Error("mark paused failed",
			zap.String("run_id", r.id), zap.String("agent_id", o.AgentID), zap.Error(err))
		return
	}
	r.state.AppendInvocation(e.invocation(o, cfg, types.InvocationPaused, d.Reason, ""))

	if err := r.state.SetStatus(types.RunAwaitingApproval, d.Reason); err != nil {
		// Another in-flight outcome already paused or failed the run; the
		// node stays parked and its entry is logged.
		e.logger.Warn("pause transition skipped",
			zap.String("run_id", r.id), zap.String("agent_id", o.AgentID), zap.Error(err))
		return
	}
	if err := e.checkpoint(ctx, r); err != nil {
		e.failRun(ctx, r, o, cfg, fmt.Sprintf("checkpoint failed after invocation was recorded: %v", err))
		return
	}

	snap := r.state.Snapshot()
	e.sink.Emit(newEvent(r.id, EventApprovalRequested, o.AgentID, map[string]any{
		"class":  string(d.Class),
		"reason": d.Reason,
	}))
	if e.notifier != nil {
		e.notifier.ApprovalRequested(r.id, snap)
	}
	e.logger.Warn("run paused for approval",
		zap.String("run_id", r.id),
		zap.String("agent_id", o.AgentID),
		zap.String("class", string(d.Class)),
		zap.String("reason", d.Reason),
	)
}

// failRun aborts the run on a fatal failure: the node is marked failed, the
// run transitions to Failed, and cleanup fires exactly once. In-flight
// sibling invocations keep their context and drain into the log; the run
// context is released only once the last of them settles. Caller holds r.mu.
func (e *Engine) failRun(ctx context.Context, r *run, o Outcome, cfg types.AgentConfig, reason string) {
	if r.state.IsActive(o.AgentID) {
		if err := r.state.MarkFailed(o.AgentID); err != nil {
			e.logger.Error("mark failed failed",
				zap.String("run_id", r.id), zap.String("agent_id", o.AgentID), zap.Error(err))
		}
	}
	r.state.AppendInvocation(e.invocation(o, cfg, types.InvocationFailed, reason, ""))

	if err := r.state.SetStatus(types.RunFailed, reason); err != nil {
		e.logger.Error("fail transition rejected", zap.String("run_id", r.id), zap.Error(err))
		return
	}
	if err := e.checkpoint(ctx, r); err != nil {
		e.logger.Error("failure checkpoint failed", zap.String("run_id", r.id), zap.Error(err))
	}

	e.sink.Emit(newEvent(r.id, EventAgentFailed, o.AgentID, map[string]any{"reason": reason}))
	e.sink.Emit(newEvent(r.id, EventRunFailed, "", r.state.Snapshot()))
	e.metrics.RunFinished(string(types.RunFailed))
	e.runCleanup(r)
	r.releaseWhenDrained()
	e.scheduleEviction(r.id)
	e.logger.Error("run failed",
		zap.String("run_id", r.id),
		zap.String("agent_id", o.AgentID),
		zap.String("reason", reason),
	)
}

// storeArtifact offloads the outcome payload when an artifact store is
// configured. An artifact write failure degrades to inline-only logging.
func (e *Engine) storeArtifact(ctx context.Context, r *run, o Outcome) string {
	if e.artifacts == nil || len(o.Output) == 0 {
		return ""
	}
	artifactID := uuid.New().String()
	if err := e.artifacts.SaveArtifact(ctx, r.id, artifactID, o.Output); err != nil {
		e.logger.Warn("artifact write failed",
			zap.String("run_id", r.id), zap.String("agent_id", o.AgentID), zap.Error(err))
		return ""
	}
	return artifactID
}

// checkpoint persists the run snapshot. Storage errors surface to the caller
// so outcome handling can escalate them.
func (e *Engine) checkpoint(ctx context.Context, r *run) error {
	snap := r.state.Snapshot()
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.store.SaveRun(cctx, &snap)
}

func (e *Engine) invocation(o Outcome, cfg types.AgentConfig, status types.InvocationStatus, reason, artifactID string) types.AgentInvocation {
	return types.AgentInvocation{
		ID:           uuid.New().String(),
		AgentID:      o.AgentID,
		Model:        cfg.Model,
		ToolsUsed:    o.ToolsUsed,
		TokensUsed:   o.TokensUsed,
		Latency:      o.Latency,
		Status:       status,
		Timestamp:    time.Now().UTC(),
		ArtifactID:   artifactID,
		ErrorMessage: reason,
	}
}

func statusFor(a Action) types.InvocationStatus {
	switch a {
	case ActionContinue:
		return types.InvocationSuccess
	case ActionPause:
		return types.InvocationPaused
	}
	return types.InvocationFailed
}

func (e *Engine) runCleanup(r *run) {
	r.cleanupOnce.Do(func() {
		if e.cleanup != nil {
			e.cleanup(r.id)
		}
	})
}

// scheduleEviction drops a terminal run from the in-process table after the
// retention window, so a long-lived kernel does not accumulate finished
// runs. State() keeps serving evicted runs from the store.
func (e *Engine) scheduleEviction(runID string) {
	time.AfterFunc(e.runRetention, func() {
		if e.baseCtx.Err() != nil {
			return
		}
		e.mu.Lock()
		delete(e.runs, runID)
		e.mu.Unlock()
	})
}

// =============================================================================
// Operator Surface
// =============================================================================

// Resume applies the operator's decision to every currently paused node and
// puts the run back into Running. Retry and EditAndRetry re-admit the nodes
// to the ready set; Skip bypasses them permanently without failing them.
func (e *Engine) Resume(ctx context.Context, runID string, decision types.ResumeDecision) error {
	if !decision.Valid() {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("unknown resume decision %q", decision))
	}
	r, err := e.lookupRun(runID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status() != types.RunAwaitingApproval {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("run %s is %s, not awaiting approval", runID, r.state.Status()))
	}

	for _, id := range r.state.PausedAgents() {
		var derr error
		if decision == types.ResumeSkip {
			derr = r.state.MarkSkipped(id)
		} else {
			derr = r.state.ReadmitPaused(id)
		}
		if derr != nil {
			return derr
		}
	}
	if err := r.state.SetStatus(types.RunRunning, ""); err != nil {
		return err
	}
	if err := e.checkpoint(ctx, r); err != nil {
		return types.NewError(types.ErrStorage, "checkpoint resumed run").WithCause(err)
	}

	e.logger.Info("run resumed",
		zap.String("run_id", runID),
		zap.String("decision", string(decision)),
	)
	r.wakeLoop()
	return nil
}

// UpdateAgentConfig replaces a node's configuration ahead of an EditAndRetry
// resume. Rejected while the node is active or already completed.
func (e *Engine) UpdateAgentConfig(runID string, cfg types.AgentConfig) error {
	r, err := e.lookupRun(runID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.graph.HasNode(cfg.ID) {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("run %s has no node %q", runID, cfg.ID))
	}
	if r.state.IsActive(cfg.ID) || r.state.IsCompleted(cfg.ID) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("node %q cannot be edited while active or after completion", cfg.ID))
	}
	return r.registry.Insert(cfg)
}

// State returns the current snapshot of a live run, falling back to the
// store for runs this process no longer tracks.
func (e *Engine) State(ctx context.Context, runID string) (types.RunSnapshot, error) {
	if r, err := e.lookupRun(runID); err == nil {
		return r.state.Snapshot(), nil
	}
	snap, err := e.store.LoadRun(ctx, runID)
	if err != nil {
		return types.RunSnapshot{}, err
	}
	return *snap, nil
}

// Topology returns the node/edge view of a live run's current graph.
func (e *Engine) Topology(runID string) (Topology, error) {
	r, err := e.lookupRun(runID)
	if err != nil {
		return Topology{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return buildTopology(runID, r.graph.Export(), r.registry), nil
}

// Runs returns the ids of runs this engine instance is tracking.
func (e *Engine) Runs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) lookupRun(runID string) (*run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[runID]
	if !ok {
		return nil, types.NewError(types.ErrRunNotFound, fmt.Sprintf("run %s not found", runID))
	}
	return r, nil
}

// =============================================================================
// Recovery and Shutdown
// =============================================================================

// Rehydrate enumerates runs whose last checkpoint was non-terminal and marks
// them failed. The graph and agent configs of an interrupted run are not
// recoverable from snapshots, so truthful bookkeeping beats a partial
// restart: every interrupted in-flight node gets a kernel-restart entry in
// the log. Returns the ids of the runs it repaired.
func (e *Engine) Rehydrate(ctx context.Context) ([]string, error) {
	ids, err := e.store.ActiveRuns(ctx)
	if err != nil {
		return nil, err
	}

	var repaired []string
	for _, id := range ids {
		snap, err := e.store.LoadRun(ctx, id)
		if err != nil {
			e.logger.Error("rehydrate: load failed", zap.String("run_id", id), zap.Error(err))
			continue
		}
		if snap.Status.Terminal() {
			continue
		}

		state := RunStateFromSnapshot(snap)
		for _, agentID := range snap.ActiveAgents {
			if err := state.MarkFailed(agentID); err != nil {
				e.logger.Error("rehydrate: mark failed",
					zap.String("run_id", id), zap.String("agent_id", agentID), zap.Error(err))
				continue
			}
			state.AppendInvocation(types.AgentInvocation{
				ID:           uuid.New().String(),
				AgentID:      agentID,
				Status:       types.InvocationFailed,
				Timestamp:    time.Now().UTC(),
				ErrorMessage: "kernel restarted during invocation",
			})
		}
		if err := state.SetStatus(types.RunFailed, "kernel restarted while run was in flight"); err != nil {
			e.logger.Error("rehydrate: fail transition", zap.String("run_id", id), zap.Error(err))
			continue
		}

		failed := state.Snapshot()
		if err := e.store.SaveRun(ctx, &failed); err != nil {
			e.logger.Error("rehydrate: save failed", zap.String("run_id", id), zap.Error(err))
			continue
		}
		e.sink.Emit(newEvent(id, EventRunFailed, "", failed))
		repaired = append(repaired, id)
		e.logger.Warn("interrupted run marked failed", zap.String("run_id", id))
	}
	return repaired, nil
}

// Shutdown stops all scheduling loops and waits for in-flight goroutines,
// bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
