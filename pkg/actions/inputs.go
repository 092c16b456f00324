// Package actions provides helpers for code running inside a GitHub Actions
// step: reading action inputs, writing outputs and environment files,
// emitting workflow-command annotations, and building the step summary.
package actions

import (
	"os"
	"strings"
)

// IsRunning reports whether the process appears to run inside a workflow.
func IsRunning() bool {
	return os.Getenv("GITHUB_ACTIONS") == "true"
}

// GetInput returns the value of an action input. Input names are exposed as
// INPUT_* environment variables with spaces and dashes mapped to
// underscores. The value is trimmed; a missing input yields "".
func GetInput(name string) string {
	return getInput(os.Getenv, name)
}

// GetBoolInput returns true when an input is a YAML-style truthy value.
func GetBoolInput(name string) bool {
	switch strings.ToLower(GetInput(name)) {
	case "true", "yes", "on", "1":
		return true
	default:
		return false
	}
}

// GetMultilineInput splits an input on newlines, dropping empty lines.
func GetMultilineInput(name string) []string {
	raw := GetInput(name)
	if raw == "" {
		return nil
	}

	var lines []string

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}

// getInput resolves an input against the given environment lookup.
func getInput(getenv func(string) string, name string) string {
	key := strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(name))

	return strings.TrimSpace(getenv("INPUT_" + key))
}
