// Package injection flags player messages that try to override the
// assistant's instructions.
package injection

import (
	"strings"
)

// Default high-risk phrases in English and Spanish, matched case-insensitively
// and without accents.
var defaultPatterns = []string{
	"ignore previous",
	"ignore all previous",
	"ignore the above",
	"disregard previous",
	"system prompt",
	"simulated mode",
	"developer mode",
	"you are now",
	"ignora las instrucciones",
	"ignora todo lo anterior",
	"olvida tus instrucciones",
	"prompt del sistema",
	"modo desarrollador",
}

// ScanResult holds the result of a prompt-injection scan.
type ScanResult struct {
	Detected bool     // true if any high-risk pattern was found
	Patterns []string // matched phrases
}

var accentFolder = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u")

// Scan checks text for high-risk prompt-injection phrases.
func Scan(text string) ScanResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return ScanResult{}
	}
	lower := accentFolder.Replace(strings.ToLower(text))
	lower = strings.Join(strings.Fields(lower), " ")
	var matched []string
	for _, p := range defaultPatterns {
		if strings.Contains(lower, p) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		return ScanResult{}
	}
	return ScanResult{Detected: true, Patterns: matched}
}
