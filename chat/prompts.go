package chat

import (
	"fmt"
	"strings"
)

// systemPrompt is the chat orchestrator's baseline instruction.
const systemPrompt = `You are a careful assistant answering questions against the user's own stored documents.
Rules:
1. Only state facts supported by the provided candidates or conversation history.
2. If the candidates don't contain enough information, say so explicitly rather than guessing.
3. Be concise but complete.`

// intentExpansionPrompt asks the LLM to decompose a question into the
// implicit sub-queries it contains.
const intentExpansionPrompt = `Extract all distinct queries implicit in the user's question below. Include the question itself if it stands alone as a query.

QUESTION:
%s

Return a JSON object with exactly one key:
  "queries": array of strings.

Rules:
- Do not include any text outside the JSON object.
- If there is only one implicit query, return an array with one element.`

// simplifyPrompt asks the LLM to produce simpler/broader phrasings of a
// set of queries that returned no candidates.
const simplifyPrompt = `The following queries returned no search results. Propose simpler or more general rephrasings that might match stored documents.

QUERIES:
%s

Return a JSON object with exactly one key:
  "queries": array of strings.

Rules:
- Do not include any text outside the JSON object.`

// strictCandidatesPrompt answers from candidates in strict mode,
// forbidding the model from answering outside the supplied context.
const strictCandidatesPrompt = `Answer the user's question using ONLY the candidate passages below. If the candidates do not contain the answer, say you don't have enough information in the stored documents; do not use outside knowledge.

CANDIDATES:
%s

QUESTION:
%s`

// candidatesPrompt is the non-strict equivalent: candidates are
// preferred but the model may supplement with general knowledge if it
// clearly flags doing so.
const candidatesPrompt = `Answer the user's question, preferring the candidate passages below when relevant. If you use information not present in the candidates, make that clear.

CANDIDATES:
%s

QUESTION:
%s`

// noResultsStrictPrompt is used when strict mode found no candidates at
// all.
const noResultsStrictPrompt = `No relevant passages were found in the stored documents for the question below. Tell the user that you don't have enough information to answer from their documents; do not guess.

QUESTION:
%s`

func buildIntentPrompt(question string) string { return fmt.Sprintf(intentExpansionPrompt, question) }
func buildSimplifyPrompt(queries []string) string {
	return fmt.Sprintf(simplifyPrompt, strings.Join(queries, "\n"))
}

func buildAnswerPrompt(question string, candidates []string, strict bool) string {
	if len(candidates) == 0 {
		if strict {
			return fmt.Sprintf(noResultsStrictPrompt, question)
		}
		return question
	}
	joined := buildCandidateBlock(candidates)
	if strict {
		return fmt.Sprintf(strictCandidatesPrompt, joined, question)
	}
	return fmt.Sprintf(candidatesPrompt, joined, question)
}

// buildCandidateBlock numbers each candidate; candidates already
// carry their own "**context**" prefix from the retrieval package.
func buildCandidateBlock(candidates []string) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
	}
	return b.String()
}
