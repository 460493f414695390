package digest

import "fmt"

// segSummaryPrompt summarises a single text segment.
const segSummaryPrompt = `Summarise the following passage in 2-4 sentences, preserving concrete facts, names, numbers and identifiers. Do not editorialise or add information not present in the text.

TEXT:
%s`

// segSheetSummaryPrompt summarises a sheet-shaped segment (a batch of
// spreadsheet rows), asking for a description of what the rows
// represent rather than restating every cell.
const segSheetSummaryPrompt = `The following is a batch of rows from a spreadsheet. Summarise in 2-4 sentences what this data represents: the columns present, the kind of records, and any notable values or ranges. Do not restate every row.

DATA:
%s`

// implicitExtractionPrompt asks for latent facts not explicitly
// stated but reasonably inferable from the text, paired with the
// questions each one would answer.
const implicitExtractionPrompt = `Given the following text, extract implicit knowledge: facts or conclusions that are not stated verbatim but can reasonably be inferred from the text (e.g. a part's rated range implies its unsupported range, a clause referencing another implies a dependency).

Return a JSON object mapping each implicit statement to the questions it would answer:
  { "<self-contained factual statement>": ["<question>", ...], ... }

Rules:
- Only include implicits clearly supported by the text.
- Each statement maps to 1-3 natural questions a user might ask it.
- If there are none, return an empty object.
- Do NOT include any text outside the JSON object.

TEXT:
%s`

// fragQuestionPrompt generates the question list a fragment would
// answer, for deep-mode DocKnl rows. Fed the parent segment's summary
// as context so short fragments are not interpreted in isolation.
const fragQuestionPrompt = `Given the following fragment of text (and the summary of the larger passage it belongs to), list the distinct questions this fragment would be a good answer to.

PASSAGE SUMMARY:
%s

FRAGMENT:
%s

Return a JSON object with exactly one key:
  "questions": array of strings, each a natural-language question.

Rules:
- Questions must be answerable from the fragment's content alone.
- If the fragment contains no answerable content, return an empty array.
- Do NOT include any text outside the JSON object.`

// crossSummaryPrompt rolls up several child summaries into one,
// token-budgeted window.
const crossSummaryPrompt = `Combine the following summaries of consecutive sections into a single coherent summary of 3-6 sentences. Preserve all concrete facts, names, numbers and identifiers; do not introduce anything not present below.

SUMMARIES:
%s`

func formatSegSummaryPrompt(text string) string   { return fmt.Sprintf(segSummaryPrompt, text) }
func formatSheetSummaryPrompt(text string) string { return fmt.Sprintf(segSheetSummaryPrompt, text) }
func formatImplicitPrompt(text string) string     { return fmt.Sprintf(implicitExtractionPrompt, text) }
func formatFragQuestionPrompt(summary, frag string) string {
	return fmt.Sprintf(fragQuestionPrompt, summary, frag)
}
func formatCrossSummaryPrompt(joined string) string { return fmt.Sprintf(crossSummaryPrompt, joined) }
