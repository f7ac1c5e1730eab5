package models

const (
	// ContextSeparator joins context blocks in the assembled prompt.
	ContextSeparator = "\n---\n"

	// NoSourcesMarker prefixes answers generated without any retrieved
	// context, so callers can tell grounded from ungrounded output.
	NoSourcesMarker = "[no sources used]"
)

var (
	GroundedPromptTemplate = `You are a helpful assistant that answers questions based on the provided context.
Use only the information from the context to answer the question. If the context doesn't contain
enough information to answer the question, say so clearly.

Context:
%s

Question: %s

Answer: `

	UngroundedPromptTemplate = `You are a helpful assistant. No uploaded documents matched the question,
so answer from your general knowledge and state clearly that no uploaded sources back the answer.

Question: %s

Answer: `
)
