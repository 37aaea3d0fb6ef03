package llm

import (
	"fmt"
	"strings"

	"github.com/shipitai/reviewbot/diff"
	"github.com/shipitai/reviewbot/vcs"
)

const systemPrompt = `You are an expert code reviewer. Your job is to review code changes and provide actionable, helpful feedback.

Focus on:
- Bugs and logic errors
- Security vulnerabilities
- Performance issues
- Significant code clarity problems (only if code is genuinely confusing)

Do NOT comment on:
- Minor style preferences (indentation, spacing, etc.)
- Formatting issues (assume automated formatters handle this)
- Adding comments to self-explanatory code
- Trivial issues that don't affect functionality

Be concise and specific. Only comment on lines that were added in this change.`

const reviewPromptTemplate = `Review the following code changes.

**Title:** %s

**Commit messages:**
%s
%s
Respond in this exact JSON format:
{
  "overview": "Brief overall assessment (1-2 sentences)",
  "detail_comment": "Markdown review posted as a top-level comment",
  "line_comments": [
    {
      "file": "path/to/file.go",
      "line": 42,
      "comment": "Your comment here explaining the issue and suggested fix."
    }
  ],
  "notification": "One or two sentences for the team chat, or an empty string if nothing is worth announcing"
}

Rules for the response:
1. "file" must exactly match the file path from the diff
2. %s
3. Keep comments concise but actionable
4. If there are no issues, return an empty line_comments array
5. Return ONLY valid JSON, no markdown code blocks or other text

<diff>
%s
</diff>`

const aiFriendlyLineRule = `"line" must be the number shown in parentheses on an added line, for example 42 for "+ (42) code". Lines starting with "-" were deleted and cannot be commented on.`

const rawLineRule = `"line" must be the line number in the NEW version of the file, counted from the hunk header "@@ -a,b +c,d @@" where c is the first new line.`

// BuildReviewPrompt constructs the prompt for a review pass.
func BuildReviewPrompt(req ReviewRequest) string {
	title := req.Title
	if title == "" {
		title = "(No title)"
	}

	messages := req.CommitMessages
	if messages == "" {
		messages = "(No commit messages)"
	}

	var refs strings.Builder
	if len(req.References) > 0 {
		refs.WriteString("\n## Reference documents\n\n")
		refs.WriteString("Use these for background only. Do not review them.\n")
		for _, r := range req.References {
			refs.WriteString("\n<reference>\n")
			refs.WriteString(r)
			refs.WriteString("\n</reference>\n")
		}
	}

	lineRule := aiFriendlyLineRule
	if req.Format == diff.FormatRaw {
		lineRule = rawLineRule
	}

	return fmt.Sprintf(reviewPromptTemplate, title, messages, refs.String(), lineRule, req.Diff)
}

// GetSystemPrompt returns the system prompt, optionally with custom
// instructions and an output language.
func GetSystemPrompt(instructions, language string) string {
	result := systemPrompt

	if instructions != "" {
		result += "\n\n## Repository-Specific Instructions\n\n" + instructions
	}

	if language != "" {
		result += "\n\nWrite every comment, the overview and the notification in " + language + "."
	}

	return result
}

const reportSystemPrompt = `You are an engineering lead writing a concise progress report from a list of commits. Group related work, highlight notable changes and risks, and skip trivial commits. Answer in markdown.`

// BuildReportPrompt lists commits for GenerateReport.
func BuildReportPrompt(commits []vcs.Commit) string {
	var b strings.Builder
	b.WriteString("Write a report covering these commits:\n\n")
	for _, c := range commits {
		id := c.ID
		if len(id) > 7 {
			id = id[:7]
		}
		fmt.Fprintf(&b, "- %s", id)
		if c.Author != "" {
			fmt.Fprintf(&b, " (%s)", c.Author)
		}
		if !c.Timestamp.IsZero() {
			fmt.Fprintf(&b, " %s", c.Timestamp.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, ": %s\n", strings.TrimSpace(c.Message))
	}
	return b.String()
}
