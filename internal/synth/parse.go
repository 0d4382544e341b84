package synth

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	fallbackMethodology = "Analyzed multiple web sources using AI summarization"
	fallbackLimitations = "Automated analysis may miss nuanced details"

	maxFallbackSummary   = 500
	maxFallbackKeyPoints = 5
)

// ParseResponse reads a model response into a Report. A JSON object,
// optionally inside a Markdown code fence, supplies the four fields, with
// placeholders for any that are missing. Anything else goes through a plain
// text reading. The result is always complete.
func ParseResponse(text string) *Report {
	body := stripFence(strings.TrimSpace(text))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil || fields == nil {
		return parsePlain(text)
	}

	return &Report{
		Summary:     textField(fields, "summary"),
		KeyPoints:   listField(fields, "key_points"),
		Methodology: textField(fields, "methodology"),
		Limitations: textField(fields, "limitations"),
	}
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line with its optional language tag
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func placeholder(name string) string {
	return "No " + name + " provided"
}

func textField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return placeholder(name)
	}
	return rawText(raw)
}

func listField(fields map[string]json.RawMessage, name string) []string {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return []string{placeholder(name)}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{rawText(raw)}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, rawText(item))
	}
	return out
}

// rawText returns JSON strings as-is and other values in their JSON form.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func parsePlain(text string) *Report {
	text = strings.TrimSpace(text)

	summary := truncate(text, maxFallbackSummary, "...")
	if summary == "" {
		summary = placeholder("summary")
	}

	points := []string{}
	for _, line := range strings.Split(text, "\n") {
		if len(points) == maxFallbackKeyPoints {
			break
		}
		if p, ok := bullet(line); ok {
			points = append(points, p)
		}
	}

	return &Report{
		Summary:     summary,
		KeyPoints:   points,
		Methodology: fallbackMethodology,
		Limitations: fallbackLimitations,
	}
}

// bullet returns the text of a line starting with -, * or • and a space.
// Rules like "---" and emphasis like "**Note**" are not bullets.
func bullet(line string) (string, bool) {
	line = strings.TrimSpace(line)
	for _, marker := range []string{"-", "*", "•"} {
		rest, ok := strings.CutPrefix(line, marker)
		if !ok || (!strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\t")) {
			continue
		}
		rest = strings.TrimSpace(rest)
		return rest, rest != ""
	}
	return "", false
}
