package signature

import "testing"

func TestTokenizeDropsSeparatorsAndFoldsCase(t *testing.T) {
	got := Tokenize("Hello, World! Foo-Bar.")
	want := []string{"hello", "world", "foo", "bar"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestTokenizeSplitsCJKIntoGraphemes(t *testing.T) {
	got := Tokenize("你好 world")
	want := []string{"你", "好", "world"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestTokenizeEmptyString(t *testing.T) {
	if got := Tokenize(""); len(got) != 0 {
		t.Fatalf("expected no tokens, got %v", got)
	}
}

func TestMinHashRejectsEmptyTokens(t *testing.T) {
	if _, err := MinHash(nil, 64); err != ErrEmptyTokens {
		t.Fatalf("expected ErrEmptyTokens, got %v", err)
	}
}

func TestMinHashProducesDimsLengthSignature(t *testing.T) {
	sig, err := MinHash(Tokenize("the quick brown fox"), 64)
	if err != nil {
		t.Fatalf("MinHash: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("expected 64 dims, got %d", len(sig))
	}
}

func TestJaccardIdenticalSignaturesIsOne(t *testing.T) {
	sig, err := MinHash(Tokenize("alpha beta gamma delta"), 128)
	if err != nil {
		t.Fatalf("MinHash: %v", err)
	}
	if j := Jaccard(sig, sig); j != 1 {
		t.Fatalf("expected J(A,A)=1, got %v", j)
	}
}

func TestJaccardIsSymmetricAndBounded(t *testing.T) {
	a, err := MinHash(Tokenize("red green blue"), 128)
	if err != nil {
		t.Fatalf("MinHash a: %v", err)
	}
	b, err := MinHash(Tokenize("red green yellow purple"), 128)
	if err != nil {
		t.Fatalf("MinHash b: %v", err)
	}
	jab := Jaccard(a, b)
	jba := Jaccard(b, a)
	if jab != jba {
		t.Fatalf("expected J(A,B)=J(B,A), got %v vs %v", jab, jba)
	}
	if jab < 0 || jab > 1 {
		t.Fatalf("expected 0<=J<=1, got %v", jab)
	}
}

func TestJaccardDissimilarTextsScoresLower(t *testing.T) {
	a, _ := MinHash(Tokenize("the sun rises over the mountains at dawn"), 256)
	b, _ := MinHash(Tokenize("the sun rises over the mountains at dawn"), 256)
	c, _ := MinHash(Tokenize("stock markets fell sharply amid inflation fears"), 256)
	if Jaccard(a, b) <= Jaccard(a, c) {
		t.Fatalf("expected identical text to score higher than unrelated text")
	}
}

func TestCorpusKeywordsRanksRarerTermsHigher(t *testing.T) {
	c := NewCorpus()
	c.Observe(Tokenize("apple banana apple orange"))
	c.Observe(Tokenize("apple banana apple banana"))
	c.Observe(Tokenize("apple kiwi dragonfruit"))

	kws := c.Keywords("apple kiwi dragonfruit season", 2)
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %v", kws)
	}
	for _, k := range kws {
		if k == "apple" {
			t.Fatalf("expected common term apple to be outranked, got %v", kws)
		}
	}
}

func TestCorpusKeywordsDropsStopWordsAndShortTokens(t *testing.T) {
	c := NewCorpus()
	kws := c.Keywords("the quick fox is in a den", 10)
	for _, k := range kws {
		if stopWords[k] || len(k) <= 2 {
			t.Fatalf("expected stop words and short tokens filtered, got %v", kws)
		}
	}
}

func TestLLMTokensCountsNonZeroForNonEmptyText(t *testing.T) {
	n := LLMTokens("The quick brown fox jumps over the lazy dog.")
	if n <= 0 {
		t.Fatalf("expected positive token count, got %d", n)
	}
}

func TestLLMTokensEmptyStringIsZero(t *testing.T) {
	if n := LLMTokens(""); n != 0 {
		t.Fatalf("expected 0 tokens for empty string, got %d", n)
	}
}
