package rag

import (
	"fmt"
	"strings"

	"github.com/portfolio-chat/portfolio-chat/pkg/openai"
)

// NoContextMarker stands in for the context when retrieval found nothing.
const NoContextMarker = "[No relevant information was found in the portfolio for this question.]"

const systemTemplate = `You are a professional recruitment assistant for %[1]s's portfolio website.

Your role is to help recruiters and hiring managers learn about %[1]s's qualifications:
- Technical skills and expertise
- Professional experience and projects
- Education and certifications
- Blog articles and thought leadership

Guidelines:
- Be professional, concise, and helpful
- Use the context provided to answer accurately
- If the answer isn't in the context, acknowledge that honestly
- Highlight relevant skills and achievements
- Provide specific examples when available
- Keep responses focused and to-the-point
- Don't make up information not present in the context
- If the context says no relevant information was found, say that you don't have that information`

const userTemplate = `Context from %s's portfolio:
%s

Question: %s

Professional Answer:`

func buildPrompt(owner, context, question string) openai.Prompt {
	if strings.TrimSpace(context) == "" {
		context = NoContextMarker
	}
	return openai.Prompt{
		System: fmt.Sprintf(systemTemplate, owner),
		User:   fmt.Sprintf(userTemplate, owner, context, question),
	}
}
