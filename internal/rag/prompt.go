package rag

import (
	"fmt"
)

const rewriteTemplate = `Based on the conversation history, rewrite the following user query into a concise, standalone question
that captures the full intent of the user.

<Conversation History>
%s
</Conversation History>

User Query: %s
Standalone Question:`

const answerTemplate = `**Task:** You are a helpful cybersecurity assistant. Your goal is to provide a clear and accurate answer to the user's question based *only* on the provided context blocks. After your answer, you **must** cite the specific sources you used.

**Context:**
%s

**Question:**
%s

**Instructions for your response:**
1. Formulate a comprehensive answer to the question using only the information from the context provided.
2. At the end of your answer, create a "Sources" section.
3. List each unique source document you used to formulate your answer in the "Sources" section. Do not make up sources.
4. If the context is empty or does not contain the information needed, say that the provided documents do not contain enough information to answer, and do not answer from general knowledge.

**Answer:**`

func buildRewritePrompt(history, query string) string {
	return fmt.Sprintf(rewriteTemplate, history, query)
}

func buildAnswerPrompt(context, query string) string {
	return fmt.Sprintf(answerTemplate, context, query)
}
