package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/aiter/llm"
)

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds a JSON object or array in raw LLM output,
// tolerating fenced code blocks and surrounding prose.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw, nil
	}

	openObj, openArr := strings.Index(raw, "{"), strings.Index(raw, "[")
	start, closer := openObj, byte('}')
	if start < 0 || (openArr >= 0 && openArr < start) {
		start, closer = openArr, ']'
	}
	if start < 0 {
		return "", fmt.Errorf("no JSON value found in response")
	}
	end := strings.LastIndexByte(raw, closer)
	if end <= start {
		return "", fmt.Errorf("no closing %q found in response", string(closer))
	}
	return raw[start : end+1], nil
}

// fixJSONPrompt asks the model to repair a malformed JSON payload it
// just produced; the re-prompt uses the caller's model at temperature 0.
const fixJSONPrompt = `The following text was supposed to be a single JSON value but failed to parse. Return ONLY the corrected JSON, no commentary, no markdown fences.

TEXT:
%s`

// ParseJSONLoose extracts and unmarshals a JSON value out of an LLM's
// raw text response into target, tolerating markdown fences and
// leading/trailing prose. If the
// first attempt fails, it issues one "fix this JSON" re-prompt through
// chat before giving up; a persistent failure returns a non-nil error
// so the caller can treat the stage as empty rather than fail outright.
// Exported for reuse by the chat package's intent-expansion/simplify
// stages.
func ParseJSONLoose(ctx context.Context, chat llm.Provider, model, raw string, target any) error {
	candidate, err := extractJSON(raw)
	if err == nil {
		if jsonErr := json.Unmarshal([]byte(candidate), target); jsonErr == nil {
			return nil
		}
	}

	resp, err := chat.Chat(ctx, llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(fixJSONPrompt, raw)},
		},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return fmt.Errorf("fix-json re-prompt: %w", err)
	}

	candidate, err = extractJSON(resp.Content)
	if err != nil {
		return fmt.Errorf("fix-json re-prompt produced unparseable output: %w", err)
	}
	if err := json.Unmarshal([]byte(candidate), target); err != nil {
		return fmt.Errorf("fix-json re-prompt still invalid: %w", err)
	}
	return nil
}
