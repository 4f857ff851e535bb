package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/agentgraph/types"
)

// ArchivedRun is the relational row for one terminal run. The full snapshot
// travels as a JSON blob; the indexed columns exist for querying.
type ArchivedRun struct {
	RunID       string    `gorm:"primaryKey;size:64"`
	WorkflowID  string    `gorm:"index;size:64"`
	Status      string    `gorm:"size:32"`
	TokensUsed  int       `gorm:""`
	StartTime   time.Time `gorm:""`
	EndTime     time.Time `gorm:"index"`
	Snapshot    []byte    `gorm:""`
	ArchivedAt  time.Time `gorm:"autoCreateTime"`
	Invocations int       `gorm:""`
}

// TableName pins the table name independent of gorm's pluralization.
func (ArchivedRun) TableName() string { return "archived_runs" }

// ArchiveStore keeps terminal run snapshots in SQLite for offline inspection
// after the hot store's TTL evicts them.
type ArchiveStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewArchiveStore opens (or creates) the SQLite database at path and
// migrates the schema. Use ":memory:" for tests.
func NewArchiveStore(path string, logger *zap.Logger) (*ArchiveStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrStorage,
			fmt.Sprintf("open archive database %s", path)).WithCause(err)
	}
	if err := db.AutoMigrate(&ArchivedRun{}); err != nil {
		return nil, types.NewError(types.ErrStorage, "migrate archive schema").WithCause(err)
	}
	return &ArchiveStore{
		db:     db,
		logger: logger.With(zap.String("component", "archive_store")),
	}, nil
}

// Archive stores a terminal snapshot. Archiving a non-terminal snapshot is a
// caller bug and is rejected.
func (a *ArchiveStore) Archive(ctx context.Context, snap *types.RunSnapshot) error {
	if !snap.Status.Terminal() {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("run %s is not terminal, refusing to archive", snap.RunID))
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return types.NewError(types.ErrStorage, "marshal snapshot for archive").WithCause(err)
	}
	end := time.Now().UTC()
	if snap.EndTime != nil {
		end = *snap.EndTime
	}
	row := ArchivedRun{
		RunID:       snap.RunID,
		WorkflowID:  snap.WorkflowID,
		Status:      string(snap.Status),
		TokensUsed:  snap.TotalTokensUsed,
		StartTime:   snap.StartTime,
		EndTime:     end,
		Snapshot:    payload,
		Invocations: len(snap.Invocations),
	}
	if err := a.db.WithContext(ctx).Save(&row).Error; err != nil {
		return types.NewError(types.ErrStorage, "archive run").WithCause(err).WithRetryable(true)
	}
	a.logger.Info("run archived",
		zap.String("run_id", snap.RunID),
		zap.String("status", string(snap.Status)),
	)
	return nil
}

// Get loads one archived snapshot by run id.
func (a *ArchiveStore) Get(ctx context.Context, runID string) (*types.RunSnapshot, error) {
	var row ArchivedRun
	err := a.db.WithContext(ctx).First(&row, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "load archived run").WithCause(err)
	}
	var snap types.RunSnapshot
	if err := json.Unmarshal(row.Snapshot, &snap); err != nil {
		return nil, types.NewError(types.ErrStorage,
			fmt.Sprintf("corrupt archived snapshot for run %s", runID)).WithCause(err)
	}
	return &snap, nil
}

// ListByWorkflow returns archived run rows for one workflow, newest first.
func (a *ArchiveStore) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]ArchivedRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ArchivedRun
	err := a.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("end_time DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "list archived runs").WithCause(err)
	}
	return rows, nil
}

// EvictOlderThan deletes archive rows whose run ended before the cutoff and
// returns the number of rows removed.
func (a *ArchiveStore) EvictOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := a.db.WithContext(ctx).Where("end_time < ?", cutoff).Delete(&ArchivedRun{})
	if res.Error != nil {
		return 0, types.NewError(types.ErrStorage, "evict archived runs").WithCause(res.Error)
	}
	return res.RowsAffected, nil
}
