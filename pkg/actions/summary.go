package actions

import (
	"fmt"
	"os"
	"strings"
)

// Summary builds the Markdown step summary shown on the workflow run page.
// Methods chain; Write appends the accumulated content to the
// GITHUB_STEP_SUMMARY file.
type Summary struct {
	sb strings.Builder
}

// NewSummary creates an empty summary builder.
func NewSummary() *Summary {
	return &Summary{}
}

// AddHeading appends a heading. Levels outside 1-6 are clamped.
func (s *Summary) AddHeading(text string, level int) *Summary {
	if level < 1 {
		level = 1
	}

	if level > 6 {
		level = 6
	}

	s.sb.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")

	return s
}

// AddText appends a paragraph.
func (s *Summary) AddText(text string) *Summary {
	s.sb.WriteString(text + "\n\n")

	return s
}

// AddCodeBlock appends a fenced code block with an optional language.
func (s *Summary) AddCodeBlock(code, lang string) *Summary {
	s.sb.WriteString("```" + lang + "\n" + strings.TrimRight(code, "\n") + "\n```\n\n")

	return s
}

// AddList appends a bullet list.
func (s *Summary) AddList(items []string) *Summary {
	for _, item := range items {
		s.sb.WriteString("- " + item + "\n")
	}

	s.sb.WriteString("\n")

	return s
}

// AddTable appends a table. The first row is the header.
func (s *Summary) AddTable(rows [][]string) *Summary {
	if len(rows) == 0 {
		return s
	}

	writeRow := func(cells []string) {
		s.sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	writeRow(rows[0])

	separators := make([]string, len(rows[0]))
	for i := range separators {
		separators[i] = "---"
	}

	writeRow(separators)

	for _, row := range rows[1:] {
		writeRow(row)
	}

	s.sb.WriteString("\n")

	return s
}

// AddLink appends a Markdown link on its own line.
func (s *Summary) AddLink(text, href string) *Summary {
	s.sb.WriteString(fmt.Sprintf("[%s](%s)\n\n", text, href))

	return s
}

// AddQuote appends a block quote.
func (s *Summary) AddQuote(text string) *Summary {
	s.sb.WriteString("> " + text + "\n\n")

	return s
}

// AddSeparator appends a horizontal rule.
func (s *Summary) AddSeparator() *Summary {
	s.sb.WriteString("---\n\n")

	return s
}

// String returns the accumulated Markdown.
func (s *Summary) String() string {
	return s.sb.String()
}

// Write appends the summary to the GITHUB_STEP_SUMMARY file and resets the
// builder so the Summary can be reused.
func (s *Summary) Write() error {
	path := os.Getenv("GITHUB_STEP_SUMMARY")
	if path == "" {
		return fmt.Errorf("GITHUB_STEP_SUMMARY is not set")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening step summary: %w", err)
	}

	defer f.Close()

	if _, err := f.WriteString(s.sb.String()); err != nil {
		return fmt.Errorf("writing step summary: %w", err)
	}

	s.sb.Reset()

	return nil
}
