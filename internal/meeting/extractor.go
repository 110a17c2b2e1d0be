package meeting

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/notesingest/internal/metrics"
)

// Analytics summarizes action ownership.
type Analytics struct {
	TopOwner          *string `json:"top_owner"`
	TopOwnerTaskCount int     `json:"top_owner_task_count"`
}

// Pack is everything extracted from one set of meeting notes.
type Pack struct {
	Markdown        string       `json:"markdown"`
	Actions         []ActionItem `json:"actions"`
	UnassignedCount int          `json:"unassigned_count"`
	Decisions       []string     `json:"decisions"`
	Analytics       Analytics    `json:"analytics"`
}

// Extractor builds meeting packs. A nil LLM disables model calls: summaries
// fall back to a snippet, decisions are local only and actions are empty.
type Extractor struct {
	llm                LLM
	summaryTemperature float64
}

func NewExtractor(llm LLM, summaryTemperature float64) *Extractor {
	return &Extractor{llm: llm, summaryTemperature: summaryTemperature}
}

// Pack runs summary, action and decision extraction concurrently and applies
// the owner guardrail to the actions.
func (e *Extractor) Pack(ctx context.Context, notes, title string) Pack {
	var (
		wg        sync.WaitGroup
		markdown  string
		actions   []ActionItem
		decisions []string
	)
	wg.Add(3)
	go func() { defer wg.Done(); markdown = e.Summary(ctx, notes, title) }()
	go func() { defer wg.Done(); actions = e.Actions(ctx, notes) }()
	go func() { defer wg.Done(); decisions = e.Decisions(ctx, notes) }()
	wg.Wait()

	actions = ApplyOwnerGuardrail(actions, notes)
	pack := Pack{
		Markdown:        markdown,
		Actions:         actions,
		UnassignedCount: CountUnassigned(actions),
		Decisions:       decisions,
		Analytics:       OwnerAnalytics(actions),
	}
	log.Ctx(ctx).Info().
		Int("actions", len(pack.Actions)).
		Int("unassigned", pack.UnassignedCount).
		Int("decisions", len(pack.Decisions)).
		Msg("meeting pack built")
	return pack
}

// Summary returns markdown bullets for the notes, or a snippet-based
// fallback when the LLM is unavailable or fails.
func (e *Extractor) Summary(ctx context.Context, notes, title string) string {
	if e.llm == nil {
		return FallbackSummary(notes, title)
	}
	out, err := e.llm.Complete(ctx, Prompt{
		Task:        "summary",
		System:      "Summarize meeting notes as short markdown bullets.",
		User:        fmt.Sprintf("Title: %s\n\nNotes:\n%s", title, notes),
		Temperature: e.summaryTemperature,
	})
	if err != nil {
		metrics.IncLLM("summary", false)
		log.Ctx(ctx).Warn().Err(err).Msg("summary failed, using fallback")
		return FallbackSummary(notes, title)
	}
	metrics.IncLLM("summary", true)
	if strings.TrimSpace(out) == "" {
		return FallbackSummary(notes, title)
	}
	return out
}

// FallbackSummary renders the title and the first 200 characters of notes.
func FallbackSummary(notes, title string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString("# " + title + "\n\n")
	}
	snippet := []rune(strings.TrimSpace(notes))
	b.WriteString("## Summary\n- ")
	if len(snippet) > 200 {
		b.WriteString(string(snippet[:200]) + "...")
	} else {
		b.WriteString(string(snippet))
	}
	return b.String()
}

// OwnerAnalytics finds the owner with the most actions. Ties go to the owner
// seen first.
func OwnerAnalytics(actions []ActionItem) Analytics {
	counts := map[string]int{}
	var order []string
	for _, a := range actions {
		if a.Owner == nil {
			continue
		}
		if _, ok := counts[*a.Owner]; !ok {
			order = append(order, *a.Owner)
		}
		counts[*a.Owner]++
	}
	var out Analytics
	for _, owner := range order {
		if counts[owner] > out.TopOwnerTaskCount {
			o := owner
			out.TopOwner = &o
			out.TopOwnerTaskCount = counts[owner]
		}
	}
	return out
}
