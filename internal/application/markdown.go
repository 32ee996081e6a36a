package application

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	groupMarker    = "::group::"
	endGroupMarker = "::endgroup::"

	defaultSectionName = "Details"
)

var groupNamePattern = regexp.MustCompile(`^\w*`)

// LogSection is one ::group:: span of script output.
type LogSection struct {
	Name string
	Body string
}

// ParseLogSections splits log into its ::group::NAME / ::endgroup:: spans.
// It returns false when the log cannot be rendered as sections: it has no
// groups, has non-blank text outside every group, or has a marker in an
// unexpected place. Only the last group may omit its ::endgroup::.
func ParseLogSections(log string) ([]LogSection, bool) {
	if !strings.Contains(log, groupMarker) {
		return nil, false
	}

	var (
		sections []LogSection
		current  *LogSection
		body     []string
	)
	closeGroup := func() {
		current.Body = strings.Join(trimBlankLines(body), "\n")
		sections = append(sections, *current)
		current, body = nil, nil
	}

	for _, raw := range strings.Split(log, "\n") {
		line := strings.TrimRight(raw, "\r")
		marker := strings.TrimLeft(line, " \t")

		switch {
		case strings.HasPrefix(marker, groupMarker):
			if current != nil {
				return nil, false
			}
			name := groupNamePattern.FindString(strings.TrimPrefix(marker, groupMarker))
			if name == "" {
				name = defaultSectionName
			}
			current = &LogSection{Name: name}
		case strings.TrimSpace(marker) == endGroupMarker:
			if current == nil {
				return nil, false
			}
			closeGroup()
		case strings.Contains(line, groupMarker) || strings.Contains(line, endGroupMarker):
			return nil, false
		case current != nil:
			body = append(body, line)
		case strings.TrimSpace(line) != "":
			return nil, false
		}
	}

	if current != nil {
		closeGroup()
	}
	if len(sections) == 0 {
		return nil, false
	}
	return sections, true
}

// LogToDetails renders script output for a comment. Grouped output becomes
// one collapsible section per group; anything else becomes a single code
// block holding the log verbatim.
func LogToDetails(log string) string {
	sections, ok := ParseLogSections(log)
	if !ok {
		return CodeBlock(log)
	}

	rendered := make([]string, 0, len(sections))
	for _, s := range sections {
		rendered = append(rendered, Details(s.Name, "\n\n"+CodeBlock(s.Body)+"\n\n"))
	}
	return strings.Join(rendered, "\n")
}

// Details wraps body in a collapsible HTML block.
func Details(summary, body string) string {
	return fmt.Sprintf("<details><summary>%s</summary>%s</details>", summary, body)
}

// CodeBlock fences body. The fence is longer than any backtick run in body.
func CodeBlock(body string) string {
	fence := strings.Repeat("`", max(3, longestBacktickRun(body)+1))
	return fence + "\n" + body + "\n" + fence
}

// Code formats s as inline code.
func Code(s string) string {
	fence := strings.Repeat("`", longestBacktickRun(s)+1)
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		return fence + " " + s + " " + fence
	}
	return fence + s + fence
}

// Mention returns an @-mention for login, or an empty string.
func Mention(login string) string {
	if login == "" {
		return ""
	}
	return "@" + login + " "
}

// Link formats a Markdown link, or just the text when url is empty.
func Link(text, url string) string {
	if url == "" {
		return text
	}
	return fmt.Sprintf("[%s](%s)", text, url)
}

func longestBacktickRun(s string) int {
	longest, run := 0, 0
	for _, r := range s {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return longest
}

func trimBlankLines(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}
