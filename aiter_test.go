package aiter

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateAssistantNameRejectsEmpty(t *testing.T) {
	for _, name := range []string{"", "   ", "\t"} {
		err := ValidateAssistantName(name)
		if err == nil {
			t.Errorf("ValidateAssistantName(%q) = nil, want error", name)
			continue
		}
		if !strings.HasPrefix(err.Error(), "[Invalid]") {
			t.Errorf("error should carry the [Invalid] prefix, got %q", err.Error())
		}
	}
}

func TestValidateAssistantNameRejectsReservedPrefixes(t *testing.T) {
	for _, name := range []string{"~system", "@bot", "  ~padded"} {
		if err := ValidateAssistantName(name); err == nil {
			t.Errorf("ValidateAssistantName(%q) = nil, want error", name)
		}
	}
}

func TestValidateAssistantNameAccepts(t *testing.T) {
	for _, name := range []string{"alice", "work notes", "研究助手"} {
		if err := ValidateAssistantName(name); err != nil {
			t.Errorf("ValidateAssistantName(%q) = %v", name, err)
		}
	}
}

func TestDefaultConfigConstants(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SignatureDims != 256 {
		t.Errorf("SignatureDims = %d", cfg.SignatureDims)
	}
	if cfg.SplitTokensOfSeg != 1600 || cfg.SplitTokensOfFrag != 160 {
		t.Errorf("split budgets = %d/%d", cfg.SplitTokensOfSeg, cfg.SplitTokensOfFrag)
	}
	if cfg.DigestBatch != 2 || cfg.DigestConcurrent != 8 || cfg.DigestRetryLimit != 3 {
		t.Errorf("digest knobs = %d/%d/%d", cfg.DigestBatch, cfg.DigestConcurrent, cfg.DigestRetryLimit)
	}
	if cfg.FilterInformativeTokens != 5 || cfg.TruncateProgressMessage != 50 {
		t.Errorf("filters = %d/%d", cfg.FilterInformativeTokens, cfg.TruncateProgressMessage)
	}
}

func TestResolveDBPathDefaultStore(t *testing.T) {
	cfg := Config{DataDir: "/tmp/aiter-test"}
	if got := cfg.resolveDBPath(); got != filepath.Join("/tmp/aiter-test", "mem.db") {
		t.Errorf("resolveDBPath = %q", got)
	}
}

func TestResolveDBPathNamedAssistant(t *testing.T) {
	cfg := Config{DataDir: "/tmp/aiter-test", AssistantName: "alice"}
	if got := cfg.resolveDBPath(); got != filepath.Join("/tmp/aiter-test", "mem_alice.db") {
		t.Errorf("resolveDBPath = %q", got)
	}
}

func TestResolveDBPathExplicitOverride(t *testing.T) {
	cfg := Config{DBPath: "/elsewhere/custom.db", AssistantName: "ignored"}
	if got := cfg.resolveDBPath(); got != "/elsewhere/custom.db" {
		t.Errorf("resolveDBPath = %q", got)
	}
}

func TestSanitizeFileComponent(t *testing.T) {
	if got := sanitizeFileComponent(`my assistant/v2`); got != "my_assistant_v2" {
		t.Errorf("sanitizeFileComponent = %q", got)
	}
}

func TestErrorRendersKindPrefix(t *testing.T) {
	err := NewError(KindUnsupported, "unsupported document format", nil)
	if err.Error() != "[Unsupported] unsupported document format" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := ErrDocumentNotFound
	err := NewError(KindNotFound, "doc xyz", cause)
	if err.Unwrap() != cause {
		t.Error("Unwrap should return the wrapped cause")
	}
	if !strings.Contains(err.Error(), "doc xyz") || !strings.HasPrefix(err.Error(), "[NotFound]") {
		t.Errorf("Error() = %q", err.Error())
	}
}
