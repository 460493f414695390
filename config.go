package aiter

import (
	"os"
	"path/filepath"
	"strings"
)

// Config holds all configuration for an aiter Engine. One Engine wraps
// one assistant's store; a process hosting multiple assistants
// constructs one Engine per store file.
type Config struct {
	// DataDir is the installation's data directory, holding the store
	// files and kept document blobs. If empty, defaults to the per-user
	// config directory for "aiter", falling back to ./data.
	DataDir string `json:"data_dir"`

	// DBPath overrides the computed store path outright (mainly for
	// tests). If empty, the store lives at <DataDir>/mem.db for the
	// default assistant or <DataDir>/mem_<name>.db for a named one.
	DBPath string `json:"db_path"`

	// AssistantName selects the store. Empty means the default store.
	// Names must be non-empty after trimming and must not begin with
	// '~' or '@' (reserved).
	AssistantName string `json:"assistant_name"`

	// LLM providers. Chat handles every completion; Reasoning, if
	// configured, replaces it for deep-mode chat.
	Chat      LLMConfig `json:"chat"`
	Reasoning LLMConfig `json:"reasoning"`

	// SignatureDims is the densified minhash dimensionality, frozen at
	// store creation time (meta.signature_dims). Default 256.
	SignatureDims int `json:"signature_dims"`

	// Splitting budgets, in LLM tokens (o200k_base).
	SplitTokensOfSeg  int `json:"split_tokens_of_seg"`
	SplitTokensOfFrag int `json:"split_tokens_of_frag"`

	// FilterInformativeTokens: a digest stage result of at most this
	// many LLM tokens is treated as noise and discarded.
	FilterInformativeTokens int `json:"filter_informative_tokens"`

	// TruncateProgressMessage bounds progress-event string length.
	TruncateProgressMessage int `json:"truncate_progress_message"`

	// Digest concurrency.
	DigestBatch      int  `json:"digest_batch"`      // docs in flight
	DigestConcurrent int  `json:"digest_concurrent"` // per-doc stage concurrency
	DigestRetryLimit int  `json:"digest_retry_limit"`
	Deep             bool `json:"deep"` // run fragment-level question digestion
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider"` // openai, ollama, lmstudio, openrouter, xai, gemini, groq, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
func DefaultConfig() Config {
	return Config{
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		SignatureDims:           256,
		SplitTokensOfSeg:        1600,
		SplitTokensOfFrag:       160,
		FilterInformativeTokens: 5,
		TruncateProgressMessage: 50,
		DigestBatch:             2,
		DigestConcurrent:        8,
		DigestRetryLimit:        3,
	}
}

// resolveDataDir computes the installation data directory: configured
// value, else the per-user config directory for "aiter", else ./data.
func (c *Config) resolveDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "aiter")
	}
	return filepath.Join(".", "data")
}

// resolveDBPath computes the final store path from config fields: the
// default store is mem.db, a named assistant's store is mem_<name>.db.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	name := "mem.db"
	if n := strings.TrimSpace(c.AssistantName); n != "" {
		name = "mem_" + sanitizeFileComponent(n) + ".db"
	}
	return filepath.Join(c.resolveDataDir(), name)
}

// sanitizeFileComponent maps an assistant name to something safe in a
// filename; the name itself stays canonical in the assistants table.
func sanitizeFileComponent(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}
