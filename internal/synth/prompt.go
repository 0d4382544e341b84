package synth

import (
	"fmt"
	"strings"

	"github.com/FranksOps/dossier/internal/extract"
)

// maxSourceChars bounds each source's content in the prompt.
const maxSourceChars = 3000

const truncationMarker = "...\n[Content truncated]"

const systemPrompt = `You are a research analyst. Write a structured research report based on the provided sources.

Respond with a JSON object in exactly this shape:
{
    "summary": "A comprehensive 2-3 paragraph summary of the key findings",
    "key_points": ["Point 1", "Point 2", "Point 3", "Point 4", "Point 5"],
    "methodology": "Brief description of how the research was conducted",
    "limitations": "Any limitations or caveats about the findings"
}

Guidelines:
- Keep the summary comprehensive but concise (2-3 paragraphs)
- Include the 3-5 most important findings as key points
- Be objective and factual
- Note conflicting information between sources
- Mention limited or questionable sources under limitations`

// sourceDigest renders the query and each source for the model.
func sourceDigest(query string, sources []extract.Result) string {
	parts := []string{fmt.Sprintf("Research Query: %s\n", query)}

	for i, src := range sources {
		title := src.Title
		if title == "" {
			title = "Untitled"
		}
		url := src.URL
		if url == "" {
			url = "Unknown"
		}
		parts = append(parts,
			fmt.Sprintf("\n--- Source %d: %s ---", i+1, title),
			"URL: "+url,
			"Content: "+truncate(src.Content, maxSourceChars, truncationMarker),
		)
	}
	return strings.Join(parts, "\n")
}

func userPrompt(query string, sources []extract.Result) string {
	return "Please analyze the following research content and create a structured report:\n\n" +
		sourceDigest(query, sources) +
		"\n\nRemember to format your response as valid JSON with the specified structure."
}

// truncate cuts s to n characters and appends suffix when it was longer.
func truncate(s string, n int, suffix string) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + suffix
}
