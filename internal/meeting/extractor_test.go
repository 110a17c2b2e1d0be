package meeting

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
)

type fakeLLM struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	prompts   map[string]Prompt
}

func (f *fakeLLM) Complete(_ context.Context, p Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prompts == nil {
		f.prompts = map[string]Prompt{}
	}
	f.prompts[p.Task] = p
	if err := f.errs[p.Task]; err != nil {
		return "", err
	}
	return f.responses[p.Task], nil
}

func ptr(s string) *string { return &s }

const notes = `Weekly sync
Alice will send the Q3 deck by Friday.
Decision: move launch to May
decided:   Move launch to May
Agreed: hire two contractors
Bob to review the contract.`

func TestLocalDecisions(t *testing.T) {
	got := LocalDecisions(notes)
	want := []string{"move launch to May", "hire two contractors"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("LocalDecisions() = %q, want %q", got, want)
	}
	if got := LocalDecisions("Decision:   \nnothing here"); got != nil {
		t.Fatalf("LocalDecisions(empty decision) = %q", got)
	}
	if got := LocalDecisions("  AGREED : ship it  \r\n"); !reflect.DeepEqual(got, []string{"ship it"}) {
		t.Fatalf("LocalDecisions(crlf) = %q", got)
	}
}

func TestDecisionsSkipsLLMWhenLocalMatches(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{"decisions": `{"decisions":["from llm"]}`}}
	e := NewExtractor(llm, 0.2)

	got := e.Decisions(context.Background(), notes)
	if len(got) != 2 || got[0] != "move launch to May" {
		t.Fatalf("Decisions() = %q", got)
	}
	if _, called := llm.prompts["decisions"]; called {
		t.Fatal("LLM should not be called when local extraction finds decisions")
	}
}

func TestDecisionsFallsBackToLLM(t *testing.T) {
	tests := []struct {
		name string
		resp string
		err  error
		want []string
	}{
		{"valid json", `{"decisions":["We ship in May", " "]}`, nil, []string{"We ship in May"}},
		{"invalid json", `Sure! Here are the decisions`, nil, []string{}},
		{"llm error", "", errors.New("timeout"), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{
				responses: map[string]string{"decisions": tt.resp},
				errs:      map[string]error{"decisions": tt.err},
			}
			got := NewExtractor(llm, 0).Decisions(context.Background(), "we decided to ship in May")
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Decisions() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionsParsing(t *testing.T) {
	tests := []struct {
		name string
		resp string
		err  error
		want int
	}{
		{"valid", `{"actions":[{"action":"Send deck","owner":"Alice","due_date":"Friday","confidence":0.9},{"action":"Review","owner":null,"due_date":null,"confidence":0.5}]}`, nil, 2},
		{"out of range confidence drops all", `{"actions":[{"action":"a","owner":null,"due_date":null,"confidence":1.5}]}`, nil, 0},
		{"missing action drops all", `{"actions":[{"action":"","owner":null,"due_date":null,"confidence":0.5}]}`, nil, 0},
		{"not json", `nope`, nil, 0},
		{"llm error", ``, errors.New("boom"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{responses: map[string]string{"actions": tt.resp}, errs: map[string]error{"actions": tt.err}}
			got := NewExtractor(llm, 0).Actions(context.Background(), notes)
			if got == nil || len(got) != tt.want {
				t.Fatalf("Actions() = %+v, want %d items", got, tt.want)
			}
		})
	}
}

func TestActionsRequestsSchema(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{"actions": `{"actions":[]}`}}
	NewExtractor(llm, 0).Actions(context.Background(), notes)
	p := llm.prompts["actions"]
	if p.SchemaName != "action_items" || p.Schema == nil || p.User != notes {
		t.Fatalf("unexpected prompt: %+v", p)
	}
}

func TestApplyOwnerGuardrail(t *testing.T) {
	in := []ActionItem{
		{Action: "Send deck", Owner: ptr("alice"), Confidence: 0.9},
		{Action: "Budget", Owner: ptr("Carol"), Confidence: 0.8},
		{Action: "Low", Owner: ptr("Dave"), Confidence: 0.2},
		{Action: "Nobody", Confidence: 0.7},
	}
	got := ApplyOwnerGuardrail(in, notes)

	if got[0].Owner == nil || *got[0].Owner != "alice" || got[0].Confidence != 0.9 {
		t.Fatalf("present owner changed: %+v", got[0])
	}
	if got[1].Owner != nil || got[1].Confidence != UnverifiedOwnerConfidence {
		t.Fatalf("absent owner not cleared: %+v", got[1])
	}
	if got[2].Owner != nil || got[2].Confidence != 0.2 {
		t.Fatalf("confidence should only be capped: %+v", got[2])
	}
	if got[3].Owner != nil || got[3].Confidence != 0.7 {
		t.Fatalf("unowned action changed: %+v", got[3])
	}
	if in[1].Owner == nil {
		t.Fatal("input slice was mutated")
	}
	if CountUnassigned(got) != 3 {
		t.Fatalf("CountUnassigned() = %d", CountUnassigned(got))
	}
}

func TestOwnerAnalytics(t *testing.T) {
	if a := OwnerAnalytics(nil); a.TopOwner != nil || a.TopOwnerTaskCount != 0 {
		t.Fatalf("empty analytics = %+v", a)
	}
	a := OwnerAnalytics([]ActionItem{
		{Owner: ptr("Bob")}, {Owner: ptr("Alice")}, {Owner: ptr("Alice")}, {Owner: ptr("Bob")}, {},
	})
	if a.TopOwner == nil || *a.TopOwner != "Bob" || a.TopOwnerTaskCount != 2 {
		t.Fatalf("tie should go to first seen owner, got %+v", a)
	}
}

func TestSummaryFallback(t *testing.T) {
	long := strings.Repeat("x", 250)
	got := FallbackSummary(long, "Sync")
	want := "# Sync\n\n## Summary\n- " + strings.Repeat("x", 200) + "..."
	if got != want {
		t.Fatalf("FallbackSummary() = %q", got)
	}
	if got := FallbackSummary("  short  ", ""); got != "## Summary\n- short" {
		t.Fatalf("FallbackSummary(no title) = %q", got)
	}

	failing := &fakeLLM{errs: map[string]error{"summary": errors.New("down")}}
	if got := NewExtractor(failing, 0.2).Summary(context.Background(), "short", ""); got != "## Summary\n- short" {
		t.Fatalf("Summary() on error = %q", got)
	}
}

func TestPack(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{
		"summary": "- Launch moved to May",
		"actions": `{"actions":[{"action":"Send deck","owner":"Alice","due_date":"Friday","confidence":0.9},` +
			`{"action":"Review contract","owner":"Bob","due_date":null,"confidence":0.8},` +
			`{"action":"Book venue","owner":"Mallory","due_date":null,"confidence":0.9}]}`,
	}}
	pack := NewExtractor(llm, 0.2).Pack(context.Background(), notes, "Weekly sync")

	if pack.Markdown != "- Launch moved to May" {
		t.Fatalf("Markdown = %q", pack.Markdown)
	}
	if len(pack.Actions) != 3 || pack.UnassignedCount != 1 {
		t.Fatalf("actions = %+v unassigned = %d", pack.Actions, pack.UnassignedCount)
	}
	if pack.Actions[2].Owner != nil || pack.Actions[2].Confidence != UnverifiedOwnerConfidence {
		t.Fatalf("guardrail not applied: %+v", pack.Actions[2])
	}
	if len(pack.Decisions) != 2 {
		t.Fatalf("Decisions = %q", pack.Decisions)
	}
	if pack.Analytics.TopOwner == nil || *pack.Analytics.TopOwner != "Alice" || pack.Analytics.TopOwnerTaskCount != 1 {
		t.Fatalf("Analytics = %+v", pack.Analytics)
	}
	if !strings.Contains(llm.prompts["summary"].User, "Title: Weekly sync") {
		t.Fatalf("summary prompt = %q", llm.prompts["summary"].User)
	}
}

func TestPackWithoutLLM(t *testing.T) {
	pack := NewExtractor(nil, 0).Pack(context.Background(), notes, "")
	if !strings.HasPrefix(pack.Markdown, "## Summary\n- Weekly sync") {
		t.Fatalf("Markdown = %q", pack.Markdown)
	}
	if len(pack.Actions) != 0 || pack.Actions == nil {
		t.Fatalf("Actions = %#v, want empty slice", pack.Actions)
	}
	if len(pack.Decisions) != 2 {
		t.Fatalf("Decisions = %q", pack.Decisions)
	}
}
