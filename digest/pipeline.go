package digest

import (
	"context"
	"fmt"
	"strings"

	"github.com/brunobiangulo/aiter/llm"
	"github.com/brunobiangulo/aiter/parser/content"
	"github.com/brunobiangulo/aiter/signature"
	"github.com/brunobiangulo/aiter/store"
)

// fetchBatchSize bounds one NotDigestedByDoc call; stages loop until it
// returns empty, so a doc with more rows than this still drains fully.
const fetchBatchSize = 256

// digestDoc runs the four-stage pipeline against one doc, in order.
// A stage's own row-level failures are recorded against
// that row (MarkDigestFailed) and never abort the doc; only a listing/
// claim-level store error aborts the whole doc and is returned so the
// scheduler can mark the doc itself failed.
func digestDoc(ctx context.Context, s *store.Store, chat llm.Provider, doc *store.Doc, opts Options, progress chan<- Progress) error {
	if err := stageSegmentDigest(ctx, s, chat, doc.ID, opts, progress); err != nil {
		return fmt.Errorf("segment digest: %w", err)
	}
	if opts.Deep {
		if err := stageFragmentDigest(ctx, s, chat, doc.ID, opts, progress); err != nil {
			return fmt.Errorf("fragment digest: %w", err)
		}
	}
	if err := stagePartRollup(ctx, s, chat, doc.ID, opts, progress); err != nil {
		return fmt.Errorf("part roll-up: %w", err)
	}
	if err := stageDocSummary(ctx, s, chat, doc.ID, opts, progress); err != nil {
		return fmt.Errorf("doc summary: %w", err)
	}
	return nil
}

func chatModel(opts Options) string { return opts.ChatModel }

// --- Stage 1: segment digest ---

func stageSegmentDigest(ctx context.Context, s *store.Store, chat llm.Provider, docID string, opts Options, progress chan<- Progress) error {
	for {
		ids, err := s.NotDigestedByDoc(ctx, "doc_segs", docID, opts.RetryLimit, fetchBatchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		forEachConcurrent(ids, opts.Concurrent, func(id string) {
			digestOneSeg(ctx, s, chat, id, opts, progress)
		})
	}
}

func digestOneSeg(ctx context.Context, s *store.Store, chat llm.Provider, segID string, opts Options, progress chan<- Progress) {
	if err := s.MarkDigestStart(ctx, "doc_segs", segID); err != nil {
		return
	}
	seg, err := s.GetSeg(ctx, segID)
	if err != nil {
		_ = s.MarkDigestFailed(ctx, "doc_segs", segID, err.Error())
		return
	}

	var prompt string
	if seg.Kind == "sheet" {
		prompt = formatSheetSummaryPrompt(seg.Content)
	} else {
		prompt = formatSegSummaryPrompt(seg.Content)
	}

	resp, err := chat.Chat(ctx, llm.ChatRequest{
		Model:       chatModel(opts),
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	})
	if err != nil {
		_ = s.MarkDigestFailed(ctx, "doc_segs", segID, err.Error())
		sendProgress(progress, opts, fmt.Sprintf("seg %s failed: %v", segID, err))
		return
	}

	summary := strings.TrimSpace(resp.Content)
	if signature.LLMTokens(summary) > opts.FilterInformativeTokens {
		if err := s.UpdateSegSummary(ctx, segID, summary); err != nil {
			_ = s.MarkDigestFailed(ctx, "doc_segs", segID, err.Error())
			return
		}
	}

	if seg.Kind != "sheet" {
		extractImplicits(ctx, s, chat, opts, seg.DocID, "seg", segID, seg.Content)
	}

	_ = s.MarkDigestEnd(ctx, "doc_segs", segID)
	sendProgress(progress, opts, fmt.Sprintf("digested segment %s", segID))
}

// extractImplicits runs the implicit-knowledge extraction prompt over
// text. The LLM answers with an object mapping each implicit statement
// to the questions it would answer; every statement becomes a
// DocImplicit row (source-tagged to sourceKind/sourceID) and every
// question a DocKnl row whose doc_ref points at that implicit. A parse
// failure degrades to zero implicits rather than failing the caller's
// stage.
func extractImplicits(ctx context.Context, s *store.Store, chat llm.Provider, opts Options, docID, sourceKind, sourceID, text string) {
	resp, err := chat.Chat(ctx, llm.ChatRequest{
		Model:          chatModel(opts),
		Messages:       []llm.Message{{Role: "user", Content: formatImplicitPrompt(text)}},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return
	}

	var pairs map[string][]string
	if err := ParseJSONLoose(ctx, chat, chatModel(opts), resp.Content, &pairs); err != nil {
		return
	}

	for implicit, questions := range pairs {
		implicit = strings.TrimSpace(implicit)
		if implicit == "" {
			continue
		}
		sig, _ := signature.MinHash(signature.Tokenize(implicit), s.Dims())
		implicitID, err := s.InsertImplicit(ctx, store.DocImplicit{
			DocID:      docID,
			SourceKind: sourceKind,
			SourceID:   sourceID,
			Content:    implicit,
		}, sig)
		if err != nil {
			continue
		}

		for _, q := range questions {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			qsig, _ := signature.MinHash(signature.Tokenize(q), s.Dims())
			if _, err := s.InsertKnl(ctx, store.DocKnl{
				DocID:    docID,
				DocRef:   store.DocRef{Kind: "implicit", ID: implicitID},
				Question: q,
			}, qsig); err != nil {
				continue
			}
		}
	}
}

// --- Stage 2: fragment digest (deep mode only) ---

func stageFragmentDigest(ctx context.Context, s *store.Store, chat llm.Provider, docID string, opts Options, progress chan<- Progress) error {
	for {
		ids, err := s.NotDigestedByDoc(ctx, "doc_frags", docID, opts.RetryLimit, fetchBatchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		forEachConcurrent(ids, opts.Concurrent, func(id string) {
			digestOneFrag(ctx, s, chat, id, opts, progress)
		})
	}
}

func digestOneFrag(ctx context.Context, s *store.Store, chat llm.Provider, fragID string, opts Options, progress chan<- Progress) {
	if err := s.MarkDigestStart(ctx, "doc_frags", fragID); err != nil {
		return
	}
	frag, err := s.GetFrag(ctx, fragID)
	if err != nil {
		_ = s.MarkDigestFailed(ctx, "doc_frags", fragID, err.Error())
		return
	}
	seg, err := s.GetSeg(ctx, frag.SegID)
	if err != nil {
		_ = s.MarkDigestFailed(ctx, "doc_frags", fragID, err.Error())
		return
	}

	resp, err := chat.Chat(ctx, llm.ChatRequest{
		Model:          chatModel(opts),
		Messages:       []llm.Message{{Role: "user", Content: formatFragQuestionPrompt(seg.Summary, frag.Content)}},
		Temperature:    0.3,
		ResponseFormat: "json_object",
	})
	if err != nil {
		_ = s.MarkDigestFailed(ctx, "doc_frags", fragID, err.Error())
		sendProgress(progress, opts, fmt.Sprintf("frag %s failed: %v", fragID, err))
		return
	}

	var result struct {
		Questions []string `json:"questions"`
	}
	if err := ParseJSONLoose(ctx, chat, chatModel(opts), resp.Content, &result); err != nil {
		// An unparseable question list is treated as empty, not as
		// a stage failure.
		result.Questions = nil
	}

	for _, q := range result.Questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		sig, _ := signature.MinHash(signature.Tokenize(q), s.Dims())
		if _, err := s.InsertKnl(ctx, store.DocKnl{
			DocID:    frag.DocID,
			DocRef:   store.DocRef{Kind: "frag", ID: frag.ID},
			Question: q,
		}, sig); err != nil {
			continue
		}
	}

	_ = s.MarkDigestEnd(ctx, "doc_frags", fragID)
	sendProgress(progress, opts, fmt.Sprintf("digested fragment %s", fragID))
}

// --- Stage 3: part roll-up ---

func stagePartRollup(ctx context.Context, s *store.Store, chat llm.Provider, docID string, opts Options, progress chan<- Progress) error {
	for {
		ids, err := s.NotDigestedByDoc(ctx, "doc_parts", docID, opts.RetryLimit, fetchBatchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		forEachConcurrent(ids, opts.Concurrent, func(id string) {
			digestOnePart(ctx, s, chat, id, opts, progress)
		})
	}
}

func digestOnePart(ctx context.Context, s *store.Store, chat llm.Provider, partID string, opts Options, progress chan<- Progress) {
	if err := s.MarkDigestStart(ctx, "doc_parts", partID); err != nil {
		return
	}
	part, err := s.GetPart(ctx, partID)
	if err != nil {
		_ = s.MarkDigestFailed(ctx, "doc_parts", partID, err.Error())
		return
	}
	segs, err := s.GetSegsByPart(ctx, partID)
	if err != nil {
		_ = s.MarkDigestFailed(ctx, "doc_parts", partID, err.Error())
		return
	}

	isSheetPart := false
	var summaries []string
	for _, seg := range segs {
		if seg.Kind == "sheet" {
			isSheetPart = true
		}
		if s := strings.TrimSpace(seg.Summary); s != "" {
			summaries = append(summaries, s)
		}
	}
	if len(summaries) == 0 && !isSheetPart {
		// Nothing to roll up; the part is done.
		_ = s.MarkDigestEnd(ctx, "doc_parts", partID)
		return
	}

	var summary string
	if len(summaries) > 1 {
		windows := summarizeAcrossTexts(ctx, chat, opts, summaries)
		summary = strings.Join(windows, "\n\n")
		extractImplicitsAcrossTexts(ctx, s, chat, opts, part.DocID, "part", partID, windows)
	} else if len(summaries) == 1 {
		summary = summaries[0]
	}

	if isSheetPart {
		// Summarise the whole sheet page as well; errors are ignored
		// since the page may exceed the model's window.
		if sheetSummary := summarizeSheetPart(ctx, s, chat, opts, part); sheetSummary != "" {
			summary = sheetSummary
			extractImplicits(ctx, s, chat, opts, part.DocID, "part", partID, sheetSummary)
		}
	}

	if summary != "" && signature.LLMTokens(summary) > opts.FilterInformativeTokens {
		if err := s.UpdatePartSummary(ctx, partID, summary); err != nil {
			_ = s.MarkDigestFailed(ctx, "doc_parts", partID, err.Error())
			return
		}
	}
	_ = s.MarkDigestEnd(ctx, "doc_parts", partID)
	sendProgress(progress, opts, fmt.Sprintf("rolled up part %s", partID))
}

// summarizeSheetPart re-decodes the doc's stored content and summarises
// the sheet page backing part, returning "" on any failure (an
// oversized page is expected to fail and is not an error).
func summarizeSheetPart(ctx context.Context, s *store.Store, chat llm.Provider, opts Options, part *store.DocPart) string {
	doc, err := s.GetDoc(ctx, part.DocID)
	if err != nil {
		return ""
	}
	dc, err := content.Decode(doc.Content)
	if err != nil || part.Position >= len(dc.Sheets) {
		return ""
	}
	page := dc.Sheets[part.Position]
	sheetText := content.NewSheet([]content.SheetPage{page}).ToString()

	resp, err := chat.Chat(ctx, llm.ChatRequest{
		Model:       chatModel(opts),
		Messages:    []llm.Message{{Role: "user", Content: formatSheetSummaryPrompt(sheetText)}},
		Temperature: 0,
	})
	if err != nil {
		return ""
	}
	summary := strings.TrimSpace(resp.Content)
	if signature.LLMTokens(summary) <= opts.FilterInformativeTokens {
		return ""
	}
	return summary
}

// --- Stage 4: doc summary ---

func stageDocSummary(ctx context.Context, s *store.Store, chat llm.Provider, docID string, opts Options, progress chan<- Progress) error {
	parts, err := s.GetPartsByDoc(ctx, docID)
	if err != nil {
		return err
	}

	var summaries []string
	for _, p := range parts {
		if sm := strings.TrimSpace(p.Summary); sm != "" {
			summaries = append(summaries, sm)
		}
	}

	switch len(summaries) {
	case 0:
		// No part produced a summary; the doc stays summary-less.
	case 1:
		if err := s.UpdateDocSummary(ctx, docID, summaries[0]); err != nil {
			return err
		}
	default:
		windows := summarizeAcrossTexts(ctx, chat, opts, summaries)
		summary := strings.Join(windows, "\n\n")
		if summary != "" && signature.LLMTokens(summary) > opts.FilterInformativeTokens {
			if err := s.UpdateDocSummary(ctx, docID, summary); err != nil {
				return err
			}
		}
		extractImplicitsAcrossTexts(ctx, s, chat, opts, docID, "doc", docID, windows)
	}
	sendProgress(progress, opts, "rolled up doc summary")
	return nil
}

// summarizeAcrossTexts packs texts into SplitTokensOfSeg-bounded
// windows and cross-summarises each window, returning one summary per
// window in input order. A window whose LLM call fails falls back to
// its raw joined text so the roll-up never silently loses a stretch of
// the document.
func summarizeAcrossTexts(ctx context.Context, chat llm.Provider, opts Options, texts []string) []string {
	windows := packWindows(texts, opts.SplitTokensOfSeg)
	out := make([]string, 0, len(windows))
	for _, w := range windows {
		out = append(out, crossSummarize(ctx, chat, opts, w))
	}
	return out
}

// extractImplicitsAcrossTexts runs the implicit extraction over the
// same token-budgeted windows summarizeAcrossTexts uses.
func extractImplicitsAcrossTexts(ctx context.Context, s *store.Store, chat llm.Provider, opts Options, docID, sourceKind, sourceID string, texts []string) {
	for _, w := range packWindows(texts, opts.SplitTokensOfSeg) {
		extractImplicits(ctx, s, chat, opts, docID, sourceKind, sourceID, strings.Join(w, "\n"))
	}
}

func packWindows(summaries []string, budget int) [][]string {
	var windows [][]string
	var cur []string
	curTokens := 0
	for _, s := range summaries {
		t := signature.LLMTokens(s)
		if len(cur) > 0 && curTokens+t > budget {
			windows = append(windows, cur)
			cur = nil
			curTokens = 0
		}
		cur = append(cur, s)
		curTokens += t
	}
	if len(cur) > 0 {
		windows = append(windows, cur)
	}
	return windows
}

func crossSummarize(ctx context.Context, chat llm.Provider, opts Options, window []string) string {
	resp, err := chat.Chat(ctx, llm.ChatRequest{
		Model:       chatModel(opts),
		Messages:    []llm.Message{{Role: "user", Content: formatCrossSummaryPrompt(strings.Join(window, "\n"))}},
		Temperature: 0,
	})
	if err != nil {
		return strings.Join(window, " ")
	}
	return strings.TrimSpace(resp.Content)
}
