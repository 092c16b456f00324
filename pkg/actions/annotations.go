package actions

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// out is the workflow-command sink. Tests swap it for a buffer.
var out io.Writer = os.Stdout

// AnnotationProps attaches a location and title to an annotation.
type AnnotationProps struct {
	Title       string
	File        string
	StartLine   int
	EndLine     int
	StartColumn int
	EndColumn   int
}

// Debug emits a debug message, visible when step debug logging is enabled.
func Debug(msg string) {
	issueCommand("debug", AnnotationProps{}, msg)
}

// Notice emits a notice annotation.
func Notice(msg string, props AnnotationProps) {
	issueCommand("notice", props, msg)
}

// Warning emits a warning annotation.
func Warning(msg string, props AnnotationProps) {
	issueCommand("warning", props, msg)
}

// Error emits an error annotation.
func Error(msg string, props AnnotationProps) {
	issueCommand("error", props, msg)
}

// SetSecret masks a value in all subsequent log output.
func SetSecret(value string) {
	issueCommand("add-mask", AnnotationProps{}, value)
}

// Group opens a collapsible log group.
func Group(title string) {
	issueCommand("group", AnnotationProps{}, title)
}

// EndGroup closes the current log group.
func EndGroup() {
	issueCommand("endgroup", AnnotationProps{}, "")
}

// issueCommand writes a ::command prop=v,...::message line.
func issueCommand(command string, props AnnotationProps, msg string) {
	var sb strings.Builder

	sb.WriteString("::")
	sb.WriteString(command)

	if params := formatProps(props); params != "" {
		sb.WriteString(" ")
		sb.WriteString(params)
	}

	sb.WriteString("::")
	sb.WriteString(escapeData(msg))

	fmt.Fprintln(out, sb.String())
}

// formatProps renders annotation properties as comma-separated key=value
// pairs, omitting zero values.
func formatProps(props AnnotationProps) string {
	var parts []string

	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+escapeProperty(value))
		}
	}

	add("title", props.Title)
	add("file", props.File)

	if props.StartLine > 0 {
		add("line", strconv.Itoa(props.StartLine))
	}

	if props.EndLine > 0 {
		add("endLine", strconv.Itoa(props.EndLine))
	}

	if props.StartColumn > 0 {
		add("col", strconv.Itoa(props.StartColumn))
	}

	if props.EndColumn > 0 {
		add("endColumn", strconv.Itoa(props.EndColumn))
	}

	return strings.Join(parts, ",")
}

// escapeData escapes a command message payload.
func escapeData(s string) string {
	return strings.NewReplacer(
		"%", "%25",
		"\r", "%0D",
		"\n", "%0A",
	).Replace(s)
}

// escapeProperty escapes a command property value.
func escapeProperty(s string) string {
	return strings.NewReplacer(
		"%", "%25",
		"\r", "%0D",
		"\n", "%0A",
		":", "%3A",
		",", "%2C",
	).Replace(s)
}
