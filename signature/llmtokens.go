package signature

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// The encoding is lazily initialised and shared: tiktoken-go's
// encoding construction parses a sizeable vocabulary file, so every
// store pays that cost once per process rather than once per call.
// o200k_base is the only encoding this build ever uses.
var (
	llmOnce sync.Once
	llmEnc  *tiktoken.Tiktoken
	llmErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	llmOnce.Do(func() {
		llmEnc, llmErr = tiktoken.GetEncoding("o200k_base")
	})
	return llmEnc, llmErr
}

// LLMTokens counts text's tokens under the o200k_base byte-pair
// encoding, the budget unit for SPLIT_TOKENS_OF_SEG,
// SPLIT_TOKENS_OF_FRAG, and FILTER_INFORMATIVE_TOKENS.
// This is deliberately distinct from Tokenize's word segmentation.
func LLMTokens(text string) int {
	enc, err := encoding()
	if err != nil {
		// Degrade to a conservative estimate rather than fail a
		// budget check outright; tiktoken-go's embedded vocab should
		// never actually fail to load for a well-known encoding name.
		return len(text) / 3
	}
	return len(enc.Encode(text, nil, nil))
}
