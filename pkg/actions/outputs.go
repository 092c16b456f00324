package actions

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// SetOutput records a step output via the GITHUB_OUTPUT file.
func SetOutput(name, value string) error {
	return appendFileCommand(os.Getenv("GITHUB_OUTPUT"), name, value)
}

// ExportVariable makes an environment variable available to subsequent steps
// via the GITHUB_ENV file.
func ExportVariable(name, value string) error {
	return appendFileCommand(os.Getenv("GITHUB_ENV"), name, value)
}

// AddPath prepends a directory to PATH for subsequent steps.
func AddPath(dir string) error {
	path := os.Getenv("GITHUB_PATH")
	if path == "" {
		return fmt.Errorf("GITHUB_PATH is not set")
	}

	return appendLine(path, dir)
}

// appendFileCommand appends a name/value pair in the heredoc format the
// runner expects. Multiline values are delimited by a random marker so the
// value cannot terminate the block early.
func appendFileCommand(path, name, value string) error {
	if path == "" {
		return fmt.Errorf("environment file for %q is not set", name)
	}

	if strings.ContainsAny(name, "=\n") {
		return fmt.Errorf("invalid output name %q", name)
	}

	delimiter := "ghadelimiter_" + uuid.New().String()
	if strings.Contains(value, delimiter) {
		return fmt.Errorf("value of %q collides with delimiter", name)
	}

	return appendLine(path, fmt.Sprintf("%s<<%s\n%s\n%s", name, delimiter, value, delimiter))
}

// appendLine appends a single line to an environment file.
func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening environment file: %w", err)
	}

	defer f.Close()

	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("writing environment file: %w", err)
	}

	return nil
}
