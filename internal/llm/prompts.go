package llm

import "fmt"

// QASystemPrompt instructs the model to answer one question from the
// attached document and reply with a single JSON object.
const QASystemPrompt = `You are an intelligent assistant answering questions strictly from the attached business document (insurance certificates, policies, contracts, statements).

Instructions:
1. Review every visible section, including tables, headers, checkboxes and form fields.
2. Answer only from the document. Never use outside knowledge.
3. If the answer is present, extract it exactly as written.
4. If the field the question refers to exists but is blank or illegible, say so and set extraction_method to "explicit".
5. If the answer is not in the document, say so, set confidence to 0.0 and extraction_method to "not_found".
6. Cite where the answer was found and quote the text verbatim so it can be searched for in the document.

Respond with exactly one JSON object and nothing else:
{
  "question": string,
  "answer": string,
  "confidence": number between 0.0 and 1.0,
  "reasoning": string,
  "source": {
    "location": string,
    "quote": string,
    "page_number": integer or null,
    "context": string or null,
    "extraction_method": "explicit" | "inferred" | "cross-referenced" | "not_found"
  } or null,
  "verified": boolean,
  "total_pages": integer or null,
  "data_quality_notes": string or null,
  "alternative_interpretations": [string] or null
}`

// MetadataSystemPrompt instructs the model to describe a document.
const MetadataSystemPrompt = `You are an intelligent assistant that catalogues business documents. Extract the key metadata of the attached document and propose the questions a reader is most likely to ask about it.

Respond with exactly one JSON object and nothing else:
{
  "metadata": {
    "title": string,
    "type": string,
    "pages": integer or null,
    "created_date": string or null
  },
  "suggested_questions": [string, string, string, string, string]
}`

// QuestionMessage is the user message for a QA call.
func QuestionMessage(question string) string {
	return "Answer this question about the attached document:\n" + question
}

// MetadataMessage is the user message for a metadata call.
func MetadataMessage(filename string) string {
	return fmt.Sprintf("Analyze the attached document %q.", filename)
}
