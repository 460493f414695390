package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/aiter"
	"github.com/brunobiangulo/aiter/chat"
	"github.com/brunobiangulo/aiter/digest"
)

type handler struct {
	engine aiter.Engine
}

func newHandler(e aiter.Engine) *handler {
	return &handler{engine: e}
}

// POST /read
// Accepts multipart file upload or JSON with file path.
func (h *handler) handleRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	// Try multipart upload first.
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)

			tmpPath := filepath.Join(os.TempDir(), safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp file", "error", err)
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return
			}
			dst.Close()
			defer os.Remove(tmpPath)

			docID, exists, err := h.engine.ReadDoc(ctx, tmpPath,
				aiter.WithFilename(safeName), aiter.WithKeep())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				slog.Error("read error", "file", safeName, "error", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"doc_id":     docID,
				"doc_exists": exists,
				"filename":   safeName,
			})
			return
		}
	}

	// Fall back to JSON body with a local path.
	var req struct {
		Path     string `json:"path"`
		Filename string `json:"filename,omitempty"`
		Format   string `json:"format,omitempty"`
		Keep     bool   `json:"keep,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	// Validate that path is a real file (prevents directory traversal probing).
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	var opts []aiter.ReadOption
	if req.Filename != "" {
		opts = append(opts, aiter.WithFilename(req.Filename))
	}
	if req.Format != "" {
		opts = append(opts, aiter.WithFormat(req.Format))
	}
	if req.Keep {
		opts = append(opts, aiter.WithKeep())
	}

	docID, exists, err := h.engine.ReadDoc(ctx, absPath, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		slog.Error("read error", "path", absPath, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":     docID,
		"doc_exists": exists,
		"path":       absPath,
	})
}

// POST /digest
func (h *handler) handleDigest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Hour)
	defer cancel()

	var req struct {
		Batch      int  `json:"batch,omitempty"`
		Concurrent int  `json:"concurrent,omitempty"`
		Deep       bool `json:"deep,omitempty"`
		Retry      bool `json:"retry,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	var opts []aiter.DigestOption
	if req.Batch > 0 {
		opts = append(opts, aiter.WithBatch(req.Batch))
	}
	if req.Concurrent > 0 {
		opts = append(opts, aiter.WithConcurrent(req.Concurrent))
	}
	if req.Deep {
		opts = append(opts, aiter.WithDeep())
	}
	if req.Retry {
		opts = append(opts, aiter.WithRetry())
	}

	// Stream progress as newline-delimited JSON while the run executes.
	flusher, canStream := w.(http.Flusher)
	progress := make(chan digest.Progress, 64)
	opts = append(opts, aiter.WithDigestProgress(progress))

	done := make(chan error, 1)
	go func() { done <- h.engine.Digest(ctx, opts...) }()

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for {
		select {
		case p := <-progress:
			if canStream {
				enc.Encode(map[string]string{"progress": p.Message})
				flusher.Flush()
			}
		case err := <-done:
			if err != nil {
				enc.Encode(map[string]string{"error": err.Error()})
				slog.Error("digest error", "error", err)
				return
			}
			enc.Encode(map[string]string{"status": "done"})
			return
		}
	}
}

// POST /chat
// Streams chat events as newline-delimited JSON.
func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		Session  string `json:"session,omitempty"`
		Exchange string `json:"exchange,omitempty"`
		Retrace  int    `json:"retrace,omitempty"`
		Deep     bool   `json:"deep,omitempty"`
		Strict   bool   `json:"strict,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	opts := []aiter.ChatOption{aiter.WithRetrace(req.Retrace)}
	if req.Session != "" {
		opts = append(opts, aiter.WithSession(req.Session))
	}
	if req.Exchange != "" {
		opts = append(opts, aiter.WithExchange(req.Exchange))
	}
	if req.Deep {
		opts = append(opts, aiter.WithDeepChat())
	}
	if req.Strict {
		opts = append(opts, aiter.WithStrict())
	}

	events, err := h.engine.Chat(r.Context(), req.Question, opts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, canStream := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range events {
		enc.Encode(eventPayload(ev))
		if canStream {
			flusher.Flush()
		}
	}
}

// eventPayload flattens a ChatEvent into the wire shape: kind plus only
// the fields that event kind carries.
func eventPayload(ev chat.ChatEvent) map[string]any {
	out := map[string]any{"kind": string(ev.Kind)}
	if ev.Delta != "" {
		out["delta"] = ev.Delta
	}
	if ev.Task != nil {
		out["task"] = map[string]any{
			"id": ev.Task.ID, "tool_id": ev.Task.ToolID,
			"name": ev.Task.Name, "args": ev.Task.Args,
		}
	}
	if ev.TaskID != "" {
		out["task_id"] = ev.TaskID
	}
	if ev.Result != "" {
		out["result"] = ev.Result
	}
	if ev.Err != nil {
		out["error"] = ev.Err.Error()
	}
	return out
}

// POST /abort
func (h *handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Exchange string `json:"exchange"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Exchange == "" {
		writeError(w, http.StatusBadRequest, "exchange is required")
		return
	}
	h.engine.Abort(req.Exchange)
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// GET /docs
func (h *handler) handleListDocs(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list docs")
		slog.Error("list docs error", "error", err)
		return
	}

	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]any{
			"id": d.ID, "source": d.Path, "format": d.Format,
			"title": d.Title, "preview": d.Preview, "summary": d.Summary,
			"digested":   d.DigestEnd != nil,
			"created_at": d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"docs": out})
}

// DELETE /docs/{id}
func (h *handler) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.DeleteDoc(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		slog.Error("delete error", "doc_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /docs/{id}/pull
func (h *handler) handlePullDoc(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := h.engine.PullDoc(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// GET /history?session=S&limit=N
func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parsePositive(v); err == nil {
			limit = n
		}
	}
	turns, err := h.engine.History(r.Context(), r.URL.Query().Get("session"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		slog.Error("history error", "error", err)
		return
	}

	out := make([]map[string]any, 0, len(turns))
	for _, t := range turns {
		out = append(out, map[string]any{
			"role": t.Role, "content": t.Content,
			"exchange": t.ExchangeID, "session": t.Session,
			"created_at": t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
