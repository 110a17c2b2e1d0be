package meeting

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/notesingest/internal/metrics"
)

// UnverifiedOwnerConfidence caps the confidence of an action whose owner
// could not be found in the notes.
const UnverifiedOwnerConfidence = 0.4

// ActionItem is one follow-up extracted from the notes.
type ActionItem struct {
	Action     string  `json:"action"`
	Owner      *string `json:"owner"`
	DueDate    *string `json:"due_date"`
	Confidence float64 `json:"confidence"`
}

var actionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"actions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":     map[string]any{"type": "string"},
					"owner":      map[string]any{"type": []string{"string", "null"}},
					"due_date":   map[string]any{"type": []string{"string", "null"}},
					"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
				"required":             []string{"action", "owner", "due_date", "confidence"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"actions"},
	"additionalProperties": false,
}

const actionsSystem = "Extract meeting action items. " +
	"Only include owner/due_date if explicitly present in the text. " +
	"Return JSON that matches the provided schema."

// Actions asks the LLM for action items. Any failure yields an empty list;
// the caller still gets a usable meeting pack.
func (e *Extractor) Actions(ctx context.Context, text string) []ActionItem {
	if e.llm == nil || strings.TrimSpace(text) == "" {
		return []ActionItem{}
	}
	logger := log.Ctx(ctx)
	logger.Debug().Int("chars", len(text)).Msg("calling llm for actions")

	raw, err := e.llm.Complete(ctx, Prompt{
		Task:        "actions",
		System:      actionsSystem,
		User:        text,
		Temperature: 0,
		SchemaName:  "action_items",
		Schema:      actionSchema,
	})
	if err != nil {
		metrics.IncLLM("actions", false)
		logger.Warn().Err(err).Msg("action extraction failed")
		return []ActionItem{}
	}
	metrics.IncLLM("actions", true)

	actions, ok := parseActions(raw)
	if !ok {
		logger.Warn().Str("raw", truncate(raw, 500)).Msg("action extraction returned invalid JSON")
	}
	return actions
}

// parseActions accepts the whole payload or nothing.
func parseActions(raw string) ([]ActionItem, bool) {
	var payload struct {
		Actions []ActionItem `json:"actions"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return []ActionItem{}, false
	}
	out := make([]ActionItem, 0, len(payload.Actions))
	for _, a := range payload.Actions {
		if strings.TrimSpace(a.Action) == "" || a.Confidence < 0 || a.Confidence > 1 {
			return []ActionItem{}, false
		}
		a.Owner = normalizeOptional(a.Owner)
		a.DueDate = normalizeOptional(a.DueDate)
		out = append(out, a)
	}
	return out, true
}

// ApplyOwnerGuardrail clears owners that do not appear in text
// (case-insensitive) and caps their confidence.
func ApplyOwnerGuardrail(actions []ActionItem, text string) []ActionItem {
	lower := strings.ToLower(text)
	out := make([]ActionItem, len(actions))
	for i, a := range actions {
		if a.Owner != nil && !strings.Contains(lower, strings.ToLower(strings.TrimSpace(*a.Owner))) {
			a.Owner = nil
			a.Confidence = min(a.Confidence, UnverifiedOwnerConfidence)
		}
		out[i] = a
	}
	return out
}

// CountUnassigned returns how many actions have no owner.
func CountUnassigned(actions []ActionItem) int {
	n := 0
	for _, a := range actions {
		if a.Owner == nil {
			n++
		}
	}
	return n
}

func normalizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
