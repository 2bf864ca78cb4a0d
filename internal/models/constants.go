package models

const (
	// PageMarkerFormat prefixes every chunk. It is the only link between a chunk and its physical page.
	PageMarkerFormat = "[Page %d] "
	PageMarkerRegex  = `^\[Page (\d+)\] `
	PageQueryRegex   = `(?i)\b(?:page|pg)\.?\s*(\d+)`

	SummariesHeader  = "DOCUMENT SUMMARIES:"
	ChunksHeader     = "RELEVANT TEXT FROM DOCUMENTS:"
	SummaryLine      = "Summary of %s: %s"
	ContextSeparator = "\n\n"

	NoContextMessage = "I couldn't find relevant information in the uploaded documents."
)

var (
	AnswerSystemPrompt = `You are a helpful AI study assistant. Answer the question based ONLY on the provided context.
If the summaries provide enough info, use them. If specific details are needed, use the relevant chunks.
Every distinct claim or fact provided must be cited with [Page X] at the end of the sentence.
Do not hallucinate or use outside knowledge. If the answer isn't in the context, say so politely.
Always format your response with Markdown.`

	AnswerPromptTemplate = `Context:
%s

Question: %s

Answer:`

	SummarySystemPrompt = "You are a helpful study assistant that creates concise and accurate summaries."

	SummaryPromptTemplate = `Please provide a comprehensive summary of the following document.
Focus on the main concepts, key arguments, and important details.

Document Content:
%s
`

	QuizSystemPrompt = "You are a quiz generator. Output valid JSON."

	QuizPromptTemplate = `Generate a quiz with %d multiple choice questions.
Difficulty: %s

Output purely JSON in the following format (no markdown code blocks):
{
  "questions": [
    {
      "question": "Question text",
      "options": ["Option A", "Option B", "Option C", "Option D"],
      "correct_answer": 0,
      "explanation": "Why this is correct"
    }
  ]
}

Content:
%s`

	NotesSystemPrompt = "You are an expert tutor creating study materials."

	NotesPromptTemplate = `Create detailed study notes based on the following document content.
Use Markdown formatting (Headers, bullet points, bold text).
Focus on key concepts, definitions, and important relationships.

Topic Focus: %s

Content:
%s`
)
