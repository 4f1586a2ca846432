package chat

import (
	"regexp"
	"strings"
)

// CleanOptions toggles the post-processing stages. Stage order is fixed:
// role prefixes, then asterisks, then stage directions, then newline cut.
type CleanOptions struct {
	RemoveAsterisks      bool
	StripStageDirections bool
	NewlineCut           bool
}

var (
	rolePrefix      = regexp.MustCompile(`(?i)^\s*(assistant|ai|response|reply)\s*:\s*`)
	bracketed       = regexp.MustCompile(`\[[^\]]*\]`)
	parenthesized   = regexp.MustCompile(`\([^)]*\)`)
	multiWhitespace = regexp.MustCompile(`[ \t]{2,}`)
)

// Clean post-processes raw model output into something speakable. The raw
// text is left untouched for logging; callers keep both.
func Clean(text string, opts CleanOptions) string {
	out := rolePrefix.ReplaceAllString(text, "")

	if opts.RemoveAsterisks {
		out = strings.ReplaceAll(out, "*", "")
	}
	if opts.StripStageDirections {
		out = bracketed.ReplaceAllString(out, "")
		out = parenthesized.ReplaceAllString(out, "")
	}
	if opts.NewlineCut {
		if idx := strings.IndexByte(out, '\n'); idx >= 0 {
			out = out[:idx]
		}
	}

	out = multiWhitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
