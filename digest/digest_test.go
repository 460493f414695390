package digest

import (
	"context"
	"strings"
	"testing"

	"github.com/brunobiangulo/aiter/llm"
)

// fakeProvider scripts Chat responses in order, for exercising the
// JSON-repair path without a live model.
type fakeProvider struct {
	responses []string
	calls     int
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	resp := f.responses[len(f.responses)-1]
	if f.calls < len(f.responses) {
		resp = f.responses[f.calls]
	}
	f.calls++
	return &llm.ChatResponse{Content: resp}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req llm.ChatRequest, onEvent func(llm.StreamEvent) bool) (*llm.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) FunctionCalls(ctx context.Context, messages []llm.Message, functions []llm.FunctionDef) ([]llm.FunctionCall, error) {
	return nil, nil
}

func TestExtractJSONFencedBlock(t *testing.T) {
	raw := "Here you go:\n```json\n{\"questions\": [\"a\", \"b\"]}\n```\nanything else"
	got, err := extractJSON(raw)
	if err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	if got != `{"questions": ["a", "b"]}` {
		t.Errorf("extracted = %q", got)
	}
}

func TestExtractJSONBareArray(t *testing.T) {
	got, err := extractJSON(`["x", "y"]`)
	if err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	if got != `["x", "y"]` {
		t.Errorf("extracted = %q", got)
	}
}

func TestExtractJSONSurroundingProse(t *testing.T) {
	raw := `The answer is {"implicits": ["fact one"]} as requested.`
	got, err := extractJSON(raw)
	if err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	if got != `{"implicits": ["fact one"]}` {
		t.Errorf("extracted = %q", got)
	}
}

func TestExtractJSONNothingFound(t *testing.T) {
	if _, err := extractJSON("no structured data here"); err == nil {
		t.Error("expected error when no JSON value is present")
	}
}

func TestParseJSONLooseFirstAttempt(t *testing.T) {
	var target struct {
		Questions []string `json:"questions"`
	}
	p := &fakeProvider{responses: []string{"unused"}}
	err := ParseJSONLoose(context.Background(), p, "", "```json\n{\"questions\":[\"q1\"]}\n```", &target)
	if err != nil {
		t.Fatalf("ParseJSONLoose: %v", err)
	}
	if len(target.Questions) != 1 || target.Questions[0] != "q1" {
		t.Errorf("target = %+v", target)
	}
	if p.calls != 0 {
		t.Errorf("no fix-json call expected, got %d", p.calls)
	}
}

func TestParseJSONLooseFixRetry(t *testing.T) {
	var target struct {
		Questions []string `json:"questions"`
	}
	p := &fakeProvider{responses: []string{`{"questions": ["repaired"]}`}}
	err := ParseJSONLoose(context.Background(), p, "", `{"questions": ["broken`, &target)
	if err != nil {
		t.Fatalf("ParseJSONLoose with repair: %v", err)
	}
	if len(target.Questions) != 1 || target.Questions[0] != "repaired" {
		t.Errorf("target = %+v", target)
	}
	if p.calls != 1 {
		t.Errorf("expected exactly one fix-json call, got %d", p.calls)
	}
}

func TestParseJSONLooseImplicitPairsShape(t *testing.T) {
	var pairs map[string][]string
	raw := "```json\n{\"the store closes early on Sundays\": [\"when does the store close on Sunday?\"]}\n```"
	p := &fakeProvider{responses: []string{"unused"}}
	if err := ParseJSONLoose(context.Background(), p, "", raw, &pairs); err != nil {
		t.Fatalf("ParseJSONLoose: %v", err)
	}
	questions, ok := pairs["the store closes early on Sundays"]
	if !ok || len(questions) != 1 {
		t.Fatalf("pairs = %v", pairs)
	}
}

func TestParseJSONLoosePersistentFailure(t *testing.T) {
	var target map[string]any
	p := &fakeProvider{responses: []string{"still not json"}}
	if err := ParseJSONLoose(context.Background(), p, "", "garbage", &target); err == nil {
		t.Error("expected error after failed repair")
	}
}

func TestPackWindowsRespectsBudget(t *testing.T) {
	summaries := []string{
		strings.Repeat("alpha beta gamma. ", 30),
		strings.Repeat("delta epsilon zeta. ", 30),
		"short one",
	}
	windows := packWindows(summaries, 120)
	if len(windows) < 2 {
		t.Fatalf("expected the long summaries to land in separate windows, got %d", len(windows))
	}
	total := 0
	for _, w := range windows {
		total += len(w)
	}
	if total != len(summaries) {
		t.Errorf("windows dropped summaries: %d in, %d out", len(summaries), total)
	}
}

func TestSummarizeAcrossTextsSingleWindow(t *testing.T) {
	p := &fakeProvider{responses: []string{"merged summary"}}
	opts := Options{}
	opts.setDefaults()
	got := summarizeAcrossTexts(context.Background(), p, opts, []string{"first part summary", "second part summary"})
	if len(got) != 1 || got[0] != "merged summary" {
		t.Errorf("summarizeAcrossTexts = %v", got)
	}
	if p.calls != 1 {
		t.Errorf("expected one cross-summarise call, got %d", p.calls)
	}
}

func TestSummarizeAcrossTextsOneSummaryPerWindow(t *testing.T) {
	p := &fakeProvider{responses: []string{"window summary"}}
	opts := Options{}
	opts.setDefaults()
	opts.SplitTokensOfSeg = 40
	texts := []string{
		strings.Repeat("alpha beta gamma delta. ", 10),
		strings.Repeat("epsilon zeta eta theta. ", 10),
	}
	got := summarizeAcrossTexts(context.Background(), p, opts, texts)
	if len(got) != 2 {
		t.Fatalf("expected one summary per window, got %d", len(got))
	}
	if p.calls != 2 {
		t.Errorf("expected one LLM call per window, got %d", p.calls)
	}
}

func TestSummarizeAcrossTextsEmpty(t *testing.T) {
	p := &fakeProvider{responses: []string{"x"}}
	opts := Options{}
	opts.setDefaults()
	if got := summarizeAcrossTexts(context.Background(), p, opts, nil); len(got) != 0 {
		t.Errorf("summarizeAcrossTexts(nil) = %v", got)
	}
	if p.calls != 0 {
		t.Errorf("no texts must mean no LLM calls, got %d", p.calls)
	}
}

func TestSendProgressTruncatesAndCleans(t *testing.T) {
	ch := make(chan Progress, 1)
	opts := Options{}
	opts.setDefaults()
	sendProgress(ch, opts, "line one\nline two that runs well past the fifty character budget imposed on progress text")
	got := <-ch
	if len(got.Message) > opts.TruncateProgressMessage {
		t.Errorf("message length %d exceeds %d", len(got.Message), opts.TruncateProgressMessage)
	}
	if strings.ContainsAny(got.Message, "\n\r") {
		t.Errorf("newlines should be mapped to spaces: %q", got.Message)
	}
}

func TestSendProgressNeverBlocks(t *testing.T) {
	ch := make(chan Progress) // unbuffered, no reader
	opts := Options{}
	opts.setDefaults()
	done := make(chan struct{})
	go func() {
		sendProgress(ch, opts, "dropped on the floor")
		close(done)
	}()
	<-done
}

func TestOptionsDefaults(t *testing.T) {
	var opts Options
	opts.setDefaults()
	if opts.Batch != 2 || opts.Concurrent != 8 || opts.RetryLimit != 3 {
		t.Errorf("defaults = %+v", opts)
	}
	if opts.FilterInformativeTokens != 5 || opts.TruncateProgressMessage != 50 || opts.SplitTokensOfSeg != 1600 {
		t.Errorf("defaults = %+v", opts)
	}
}
