package extraction

import "fmt"

// systemPrompt instructs the model to answer with nothing but a single-key
// JSON object. Kept strict so parsing failures are detectable instead of
// silently wrong.
const systemPrompt = `You are a data extraction assistant for business consultations.
You receive an interview question and the respondent's spoken answer.
Respond with a JSON object containing exactly one key: the field name you
are given. Its value is a concise summary of the respondent's answer to
that question. Do not add any other keys, commentary, or formatting.`

// buildUserPrompt renders the extraction request for one answered question.
func buildUserPrompt(questionText, fieldKey, transcript string) string {
	return fmt.Sprintf(`Question: %s

Respondent's answer (transcribed): %s

Return a JSON object of the form {"%s": "<extracted value>"}.`,
		questionText, transcript, fieldKey)
}
