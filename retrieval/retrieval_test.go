package retrieval

import (
	"strings"
	"testing"

	"github.com/brunobiangulo/aiter/store"
)

func TestSanitizeFTSQueryQuotesPhraseAndTerms(t *testing.T) {
	q := sanitizeFTSQuery("when does the store close?")
	if !strings.Contains(q, `"when does the store close"`) {
		t.Errorf("expected quoted phrase in %q", q)
	}
	if !strings.Contains(q, "store") || !strings.Contains(q, "close") {
		t.Errorf("expected significant terms in %q", q)
	}
	if strings.Contains(q, "?") {
		t.Errorf("FTS special characters should be stripped: %q", q)
	}
}

func TestSanitizeFTSQueryEmptyInputPassesThrough(t *testing.T) {
	if got := sanitizeFTSQuery("   "); got != "   " {
		t.Errorf("sanitizeFTSQuery(blank) = %q", got)
	}
}

func TestKeywordQueryDropsStopWords(t *testing.T) {
	q := keywordQuery("the closing time of the shop")
	for _, stop := range []string{"the", "of"} {
		for _, term := range strings.Split(q, " OR ") {
			if term == stop {
				t.Errorf("stop word %q survived in %q", stop, q)
			}
		}
	}
	if !strings.Contains(q, "closing") || !strings.Contains(q, "shop") {
		t.Errorf("expected content words in %q", q)
	}
}

func TestKeywordQueryAllStopWords(t *testing.T) {
	if got := keywordQuery("is it the"); got != "" {
		t.Errorf("keywordQuery = %q, want empty", got)
	}
}

func TestUnionQueriesDedupesAndKeepsQuestionFirst(t *testing.T) {
	got := unionQueries("main question", []string{"related", "main question", " ", "related", "other"})
	want := []string{"main question", "related", "other"}
	if len(got) != len(want) {
		t.Fatalf("unionQueries = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unionQueries[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMergeRankSortsDedupesAndTruncates(t *testing.T) {
	all := []hit{
		{content: "low", score: 0.1},
		{content: "high", score: 0.9},
		{content: "mid", score: 0.5},
		{content: "high", score: 0.8}, // duplicate text, lower score
		{content: "floor", score: 0.05},
	}
	got := mergeRank(all, 3)
	want := []string{"high", "mid", "low"}
	if len(got) != len(want) {
		t.Fatalf("mergeRank = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mergeRank[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMergeRankEmpty(t *testing.T) {
	if got := mergeRank(nil, 10); len(got) != 0 {
		t.Errorf("mergeRank(nil) = %v", got)
	}
}

func TestContextForPrefersTitle(t *testing.T) {
	doc := &store.Doc{Path: "report-2024.pdf", Title: "Annual Safety Review"}
	if got := contextFor(doc); got != "Annual Safety Review" {
		t.Errorf("contextFor = %q", got)
	}
}

func TestContextForFallsBackToFilestem(t *testing.T) {
	doc := &store.Doc{Path: "notes/meeting-minutes.txt"}
	if got := contextFor(doc); got != "meeting-minutes" {
		t.Errorf("contextFor = %q", got)
	}
}

func TestContextForTitleContainedInFilestem(t *testing.T) {
	doc := &store.Doc{Path: "Annual-Report-Final.pdf", Title: "report"}
	if got := contextFor(doc); got != "Annual-Report-Final" {
		t.Errorf("title contained in filestem should yield the filestem, got %q", got)
	}
}

func TestFormatHitShape(t *testing.T) {
	if got := formatHit("manual", "the store closes at 10pm"); got != "**manual** the store closes at 10pm" {
		t.Errorf("formatHit = %q", got)
	}
}
