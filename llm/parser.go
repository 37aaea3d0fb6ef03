package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shipitai/reviewbot/vcs"
)

// ParseResponse parses the model's JSON review. Line comments missing a file,
// a positive line or a body are dropped and counted rather than failing the
// whole review.
func ParseResponse(response string) (*ReviewResult, int, error) {
	// Clean up the response - remove markdown code blocks if present
	cleaned := extractJSON(cleanResponse(response))

	var result ReviewResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, 0, fmt.Errorf("failed to parse LLM response as JSON: %w\nResponse: %s", err, cleaned)
	}

	valid := make([]vcs.LineComment, 0, len(result.LineComments))
	for _, c := range result.LineComments {
		if c.File == "" || c.Line <= 0 || strings.TrimSpace(c.Comment) == "" {
			continue
		}
		valid = append(valid, c)
	}
	dropped := len(result.LineComments) - len(valid)
	result.LineComments = valid

	result.Notification = strings.TrimSpace(result.Notification)

	return &result, dropped, nil
}

// cleanResponse removes markdown code blocks and other formatting.
func cleanResponse(response string) string {
	response = strings.TrimSpace(response)

	// Remove ```json and ``` wrappers
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
	}

	response = strings.TrimSuffix(response, "```")

	return strings.TrimSpace(response)
}

// extractJSON trims prose around the outermost JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// LLMResult renders a review for storage: the inline comments, one per line,
// followed by the detail comment. The next incremental review receives it as
// the previous review.
func LLMResult(r *ReviewResult) string {
	var b strings.Builder
	for i, c := range r.LineComments {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s:%d %s", c.File, c.Line, c.Comment)
	}
	if b.Len() > 0 && r.DetailComment != "" {
		b.WriteString("\n\n")
	}
	b.WriteString(r.DetailComment)
	return b.String()
}
