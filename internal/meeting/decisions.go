package meeting

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/notesingest/internal/metrics"
)

var decisionLine = regexp.MustCompile(`(?im)^[ \t]*(?:Decision|Decided|Agreed)[ \t]*:[ \t]*(.+?)[ \t]*$`)

const decisionsSystem = "You extract meeting decisions from notes. " +
	`Return ONLY valid JSON in the format: {"decisions": ["..."]}. ` +
	"Do not invent decisions. If none are explicit, return an empty list."

const decisionsUser = `Extract decisions from these meeting notes.

Rules:
- A decision must be an explicit commitment or agreement.
- Examples: lines starting with 'Decision:', 'Decided:', 'Agreed:', 'We decided to', 'We agreed to'.
- If none, return {"decisions": []}.
- Keep each decision concise, one per list item.
- Output MUST be valid JSON only.

MEETING NOTES:
`

// LocalDecisions picks up "Decision:", "Decided:" and "Agreed:" lines,
// deduplicated case-insensitively in order of first appearance.
func LocalDecisions(notes string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, m := range decisionLine.FindAllStringSubmatch(strings.ReplaceAll(notes, "\r\n", "\n"), -1) {
		d := strings.TrimSpace(m[1])
		if d == "" {
			continue
		}
		key := strings.ToLower(d)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

// Decisions extracts decisions locally and only asks the LLM when no
// explicit decision line is present.
func (e *Extractor) Decisions(ctx context.Context, notes string) []string {
	if strings.TrimSpace(notes) == "" {
		return []string{}
	}
	if local := LocalDecisions(notes); len(local) > 0 {
		return local
	}
	if e.llm == nil {
		return []string{}
	}

	raw, err := e.llm.Complete(ctx, Prompt{
		Task:        "decisions",
		System:      decisionsSystem,
		User:        decisionsUser + notes,
		Temperature: 0,
	})
	if err != nil {
		metrics.IncLLM("decisions", false)
		log.Ctx(ctx).Warn().Err(err).Msg("decision extraction failed")
		return []string{}
	}
	metrics.IncLLM("decisions", true)

	var payload struct {
		Decisions []string `json:"decisions"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		log.Ctx(ctx).Warn().Str("raw", truncate(raw, 500)).Msg("decision extraction returned invalid JSON")
		return []string{}
	}
	out := make([]string, 0, len(payload.Decisions))
	for _, d := range payload.Decisions {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}
