package slogging

import "strings"

// SanitizeLogMessage removes control characters that could be used for log
// injection attacks (CWE-117). Newlines, carriage returns, and tabs are
// replaced with spaces, and runs of whitespace are collapsed.
func SanitizeLogMessage(message string) string {
	// Replace newlines with space
	message = strings.ReplaceAll(message, "\n", " ")
	message = strings.ReplaceAll(message, "\r", " ")

	// Replace tabs with space
	message = strings.ReplaceAll(message, "\t", " ")

	// Collapse multiple spaces into one and trim whitespace
	message = strings.TrimSpace(strings.Join(strings.Fields(message), " "))

	return message
}
