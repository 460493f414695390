package chat

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOptionsNormalizeClampsRetrace(t *testing.T) {
	o := Options{Retrace: -5}
	o.normalize()
	if o.Retrace != 0 {
		t.Errorf("negative retrace should clamp to 0, got %d", o.Retrace)
	}

	o = Options{Retrace: 10_000}
	o.normalize()
	if o.Retrace != ChatHistoryLimit {
		t.Errorf("oversized retrace should clamp to %d, got %d", ChatHistoryLimit, o.Retrace)
	}
}

func TestOptionsNormalizeMintsExchange(t *testing.T) {
	o := Options{}
	o.normalize()
	if o.Exchange == "" {
		t.Fatal("expected a minted exchange ID")
	}

	o2 := Options{Exchange: "fixed"}
	o2.normalize()
	if o2.Exchange != "fixed" {
		t.Errorf("explicit exchange should be kept, got %q", o2.Exchange)
	}
}

func TestNewULIDSortableAndUnique(t *testing.T) {
	a := NewULID()
	b := NewULID()
	if a == b {
		t.Fatal("consecutive ULIDs must differ")
	}
	if len(a) != 26 || len(b) != 26 {
		t.Errorf("ULID lengths = %d, %d, want 26", len(a), len(b))
	}
	if !(a < b) {
		t.Errorf("ULIDs minted in order should sort lexicographically: %q then %q", a, b)
	}
}

func TestAbortRemovesInFlightExchange(t *testing.T) {
	inFlight.register("ex-1")
	if !inFlight.isActive("ex-1") {
		t.Fatal("expected registered exchange to be active")
	}
	Abort("ex-1")
	if inFlight.isActive("ex-1") {
		t.Error("expected aborted exchange to be inactive")
	}
}

func TestAbortUnknownExchangeIsNoop(t *testing.T) {
	Abort("never-registered") // must not panic or error
}

func TestDedupNonEmpty(t *testing.T) {
	got := dedupNonEmpty([]string{" a ", "b", "a", "", "  ", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("dedupNonEmpty = %v", got)
	}
}

func TestUnionStringsKeepsOrderAcrossLists(t *testing.T) {
	got := unionStrings([]string{"x", "y"}, []string{"y", "z"})
	want := []string{"x", "y", "z"}
	if len(got) != len(want) {
		t.Fatalf("unionStrings = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unionStrings[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildAnswerPromptStrictNoCandidates(t *testing.T) {
	prompt := buildAnswerPrompt("what time is it?", nil, true)
	if !strings.Contains(prompt, "what time is it?") {
		t.Errorf("question missing from prompt: %q", prompt)
	}
	if !strings.Contains(strings.ToLower(prompt), "no relevant passages") {
		t.Errorf("strict no-results prompt expected, got %q", prompt)
	}
}

func TestBuildAnswerPromptFreeChatWithoutCandidates(t *testing.T) {
	prompt := buildAnswerPrompt("tell me a story", nil, false)
	if prompt != "tell me a story" {
		t.Errorf("non-strict empty-candidate chat should pass the question through, got %q", prompt)
	}
}

func TestBuildAnswerPromptNumbersCandidates(t *testing.T) {
	prompt := buildAnswerPrompt("q", []string{"**doc** first", "**doc** second"}, true)
	if !strings.Contains(prompt, "[1] **doc** first") || !strings.Contains(prompt, "[2] **doc** second") {
		t.Errorf("candidates should be numbered: %q", prompt)
	}
	if !strings.Contains(prompt, "ONLY") {
		t.Errorf("strict prompt should forbid outside knowledge: %q", prompt)
	}
}

func TestMapHistoryRole(t *testing.T) {
	if mapHistoryRole(RoleUser) != "user" {
		t.Error("user role should map to user")
	}
	for _, role := range []string{RoleBot, RoleSystem, RoleFunc, RoleTool} {
		if mapHistoryRole(role) != "assistant" {
			t.Errorf("role %q should fold into assistant", role)
		}
	}
}

func TestFinalRecordRoundTrip(t *testing.T) {
	rec := finalRecord{
		Content:   "the answer",
		Reasoning: "thinking out loud",
		CallTools: []CallToolTask{{ID: "t1", ToolID: "weather", Name: "weather", Args: map[string]string{"city": "Porto"}}},
	}
	blob, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back finalRecord
	if err := json.Unmarshal(blob, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Content != rec.Content || back.Reasoning != rec.Reasoning {
		t.Errorf("round trip lost fields: %+v", back)
	}
	if len(back.CallTools) != 1 || back.CallTools[0].Args["city"] != "Porto" {
		t.Errorf("call tools lost in round trip: %+v", back.CallTools)
	}
}

func TestSanitizeQuery(t *testing.T) {
	if got := sanitizeQuery("  padded question  "); got != "padded question" {
		t.Errorf("sanitizeQuery = %q", got)
	}
}
