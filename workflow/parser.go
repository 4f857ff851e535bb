package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/BaSui01/agentgraph/types"
)

// Agents request graph mutations by embedding a fenced block in their output:
//
//	```json:delegation
//	{"reason": "...", "new_nodes": [...], "strategy": "child"}
//	```
//
// This is the only boundary where free-form output is inspected; past it the
// kernel deals exclusively in typed DelegationRequest values.

var (
	delegationBlockRe = regexp.MustCompile("(?is)```json:delegation\\s*(\\{[\\s\\S]*?\\})\\s*```")

	errInvalidJSON = types.NewError(types.ErrProtocol, "output is not valid JSON")
)

// HasDelegation reports whether the text contains a delegation block.
func HasDelegation(text string) bool {
	return delegationBlockRe.MatchString(text)
}

// ExtractDelegation extracts and strictly parses the first delegation block
// in the text. Returns (nil, nil) when no block is present. A present but
// malformed block is a protocol violation.
func ExtractDelegation(text string) (*types.DelegationRequest, error) {
	m := delegationBlockRe.FindStringSubmatch(text)
	if m == nil {
		return nil, nil
	}

	raw := m[1]
	req, err := decodeDelegation(raw)
	if err != nil {
		// Second attempt: repair invalid escape sequences before giving up.
		if repaired, rerr := decodeDelegation(repairJSON(raw)); rerr == nil {
			req = repaired
		} else {
			return nil, types.NewError(types.ErrProtocol,
				fmt.Sprintf("malformed delegation block: %v", err)).WithCause(err)
		}
	}

	if err := req.Validate(); err != nil {
		return nil, types.NewError(types.ErrProtocol,
			fmt.Sprintf("invalid delegation request: %v", err)).WithCause(err)
	}
	return req, nil
}

func decodeDelegation(raw string) (*types.DelegationRequest, error) {
	var req types.DelegationRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// repairJSON doubles backslashes that are not part of a valid JSON escape
// sequence. Models embedding regexes or Windows paths produce these
// routinely.
func repairJSON(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		if i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				out = append(out, c, s[i+1])
				i++
				continue
			}
		}
		out = append(out, '\\', '\\')
	}
	return string(out)
}

// outputText pulls the human-readable text out of a structured payload: a
// bare JSON string, or the "result" / "output" field of an object. Empty
// string means there is no text to inspect.
func outputText(output json.RawMessage) string {
	var s string
	if err := json.Unmarshal(output, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(output, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"result", "output"} {
		if raw, ok := obj[key]; ok {
			if err := json.Unmarshal(raw, &s); err == nil {
				return s
			}
		}
	}
	return ""
}
