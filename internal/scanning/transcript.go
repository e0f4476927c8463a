package scanning

import "strings"

// transcriptionPrompt is the shared prompt used by the LLM engines. They act
// as OCR only; field parsing happens in the extraction package.
const transcriptionPrompt = `You are an OCR engine reading a scanned receipt. Transcribe every line of text exactly as printed, from top to bottom.

Rules:
- Keep the original line breaks, one printed line per output line
- Keep prices, dates, phone numbers and punctuation exactly as printed
- Do not summarize, translate, correct or reorder anything
- Do not add commentary, headings or markdown code blocks
- If the image contains no readable text, return an empty response`

// cleanTranscript strips markdown fences that models sometimes add around the text
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		// drop the opening fence line, which may carry a language tag
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		} else {
			text = strings.TrimLeft(text, "`")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
