// Package digest implements the four-stage knowledge-digestion
// pipeline: per-segment summarisation and implicit extraction,
// per-fragment question generation (deep mode), and part and doc-level
// roll-ups.
package digest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/aiter/llm"
	"github.com/brunobiangulo/aiter/store"
)

// Options configures one Digest run.
type Options struct {
	// Batch is the doc-parallelism (default 2).
	Batch int
	// Concurrent is the per-doc stage task-parallelism (default 8).
	Concurrent int
	// Deep enables the fragment-question digestion stage.
	Deep bool
	// Retry additionally resets terminal-skipped rows (digest_retry >=
	// RetryLimit) back into eligibility before starting.
	Retry bool
	// RetryLimit is DIGEST_RETRY, default 3.
	RetryLimit int
	// TruncateProgressMessage bounds progress-event string length,
	// default 50.
	TruncateProgressMessage int
	// FilterInformativeTokens: a stage result of at most this many
	// LLM tokens is discarded as noise, default 5.
	FilterInformativeTokens int
	// SplitTokensOfSeg is the token budget a roll-up window packs
	// against before it must cross-summarise, default 1600.
	SplitTokensOfSeg int
	// ChatModel, if set, overrides the provider's configured default
	// model for every digest LLM call.
	ChatModel string
}

func (o *Options) setDefaults() {
	if o.Batch <= 0 {
		o.Batch = 2
	}
	if o.Concurrent <= 0 {
		o.Concurrent = 8
	}
	if o.RetryLimit <= 0 {
		o.RetryLimit = 3
	}
	if o.TruncateProgressMessage <= 0 {
		o.TruncateProgressMessage = 50
	}
	if o.FilterInformativeTokens <= 0 {
		o.FilterInformativeTokens = 5
	}
	if o.SplitTokensOfSeg <= 0 {
		o.SplitTokensOfSeg = 1600
	}
}

// Progress is one sub-task description emitted on the caller-supplied
// progress channel.
type Progress struct {
	Message string
}

// digestEntityTables lists every table the crash-recovery reset and
// (optionally) the retry reset pass over, in addition to docs itself.
var digestEntityTables = []string{"doc_parts", "doc_segs", "doc_frags"}

// Digest runs the batch scheduler over assistantID's not-yet-digested
// docs: resets crashed rows, optionally resets terminal-skipped rows,
// then spawns opts.Batch doc workers (staggered by one second each)
// that each claim one doc at a time and run the four-stage per-doc
// pipeline at opts.Concurrent task-parallelism.
func Digest(ctx context.Context, s *store.Store, assistantID string, chat llm.Provider, opts Options, progress chan<- Progress) error {
	opts.setDefaults()

	if err := resetCrashed(ctx, s); err != nil {
		return fmt.Errorf("digest: resetting crashed rows: %w", err)
	}
	if opts.Retry {
		if err := resetTerminalSkipped(ctx, s); err != nil {
			return fmt.Errorf("digest: resetting terminal-skipped rows: %w", err)
		}
	}

	total, err := s.CountNotDigestedDocs(ctx, assistantID, opts.RetryLimit)
	if err != nil {
		return fmt.Errorf("digest: counting pending docs: %w", err)
	}
	if total == 0 {
		return nil
	}

	var (
		doneCount int
		doneMu    sync.Mutex
		wg        sync.WaitGroup
	)
	report := func(msg string) {
		doneMu.Lock()
		pct := 0
		if total > 0 {
			pct = int(100 * int64(doneCount) / total)
		}
		doneMu.Unlock()
		sendProgress(progress, opts, fmt.Sprintf("[%d%%] %s", pct, msg))
	}

	for i := 0; i < opts.Batch; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			if worker > 0 {
				time.Sleep(time.Duration(worker) * time.Second)
			}
			for {
				if ctx.Err() != nil {
					return
				}
				doc, err := s.ClaimDoc(ctx, assistantID, opts.RetryLimit)
				if err == store.ErrNotFound {
					return
				}
				if err != nil {
					report(fmt.Sprintf("claim failed: %v", err))
					return
				}

				report(fmt.Sprintf("digesting %s", doc.Path))
				if err := digestDoc(ctx, s, chat, doc, opts, progress); err != nil {
					_ = s.MarkDigestFailed(ctx, "docs", doc.ID, err.Error())
					report(fmt.Sprintf("%s failed: %v", doc.Path, err))
				} else {
					_ = s.MarkDigestEnd(ctx, "docs", doc.ID)
				}

				doneMu.Lock()
				doneCount++
				doneMu.Unlock()
				report(fmt.Sprintf("finished %s", doc.Path))
			}
		}(i)
	}
	wg.Wait()
	return nil
}

func resetCrashed(ctx context.Context, s *store.Store) error {
	if err := s.ResetNotDigestedButStarted(ctx, "docs"); err != nil {
		return err
	}
	for _, t := range digestEntityTables {
		if err := s.ResetNotDigestedButStarted(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func resetTerminalSkipped(ctx context.Context, s *store.Store) error {
	if err := s.ResetDigestRetry(ctx, "docs"); err != nil {
		return err
	}
	for _, t := range digestEntityTables {
		if err := s.ResetDigestRetry(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// sendProgress truncates msg to TruncateProgressMessage chars, maps
// newlines to spaces, and sends a non-blocking Progress event (a full
// channel never stalls the digest pipeline).
func sendProgress(ch chan<- Progress, opts Options, msg string) {
	if ch == nil {
		return
	}
	msg = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, msg)
	if r := []rune(msg); len(r) > opts.TruncateProgressMessage {
		msg = string(r[:opts.TruncateProgressMessage])
	}
	select {
	case ch <- Progress{Message: msg}:
	default:
	}
}
