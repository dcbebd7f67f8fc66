package similarity

import (
	"regexp"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Tokens are runs of two or more letters, digits or underscores, so "What's
// the policy #?" yields what, the, policy.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

var folder = cases.Fold()

func tokenize(text string) []string {
	folded := folder.String(norm.NFKC.String(text))
	return tokenPattern.FindAllString(folded, -1)
}
