package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"vagus/internal/modelclient"
)

// Decision is the router-role verdict for a turn.
type Decision string

const (
	DecisionHandle   Decision = "handle"
	DecisionDelegate Decision = "delegate"
)

// RoutingDecision is the parsed and validated router output. Router output
// is never trusted raw: it is parsed, the decision and target checked, and
// any malformation falls back to the reasoning role.
type RoutingDecision struct {
	Decision   Decision         `json:"decision"`
	Target     modelclient.Role `json:"target,omitempty"`
	Confidence float64          `json:"confidence"`
	Rationale  string           `json:"rationale,omitempty"`

	// Response carries the direct answer when the router handles the turn
	// itself, so a simple greeting costs exactly one model call.
	Response string `json:"response,omitempty"`
}

// parseRoutingDecision extracts and validates a routing decision from router
// output. The decision is expected as a JSON object anywhere in the text
// (models often wrap it in prose or code fences).
func parseRoutingDecision(text string) (*RoutingDecision, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in router output")
	}

	var rd RoutingDecision
	if err := json.Unmarshal([]byte(raw), &rd); err != nil {
		return nil, fmt.Errorf("malformed routing decision: %w", err)
	}

	switch rd.Decision {
	case DecisionHandle:
		return &rd, nil
	case DecisionDelegate:
		if _, err := modelclient.ParseRole(string(rd.Target)); err != nil {
			return nil, fmt.Errorf("invalid delegation target: %w", err)
		}
		if rd.Target == modelclient.RoleRouter {
			return nil, fmt.Errorf("router cannot delegate to itself")
		}
		return &rd, nil
	default:
		return nil, fmt.Errorf("unknown decision %q", rd.Decision)
	}
}

// extractJSONObject returns the first balanced top-level JSON object in s.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
