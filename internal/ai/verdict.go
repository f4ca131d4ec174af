package ai

import "strings"

const (
	verdictValid     = "CACHE_VALID"
	verdictGenerated = "GENERATED"
)

// Verdict is the parsed outcome of a validate-or-generate call.
type Verdict struct {
	Valid  bool
	Answer string
}

// ParseVerdict reads the first line as the verdict and the rest as the answer.
// A valid verdict without a body reuses the cached answer. Anything that is
// not a recognised verdict counts as a generated answer.
func ParseVerdict(text, cachedAnswer string) Verdict {
	text = strings.TrimSpace(text)
	head, body, _ := strings.Cut(text, "\n")
	body = strings.TrimSpace(body)

	switch strings.ToUpper(strings.TrimSpace(head)) {
	case verdictValid:
		if body == "" {
			body = cachedAnswer
		}
		return Verdict{Valid: true, Answer: body}
	case verdictGenerated:
		if body == "" {
			body = text
		}
		return Verdict{Answer: body}
	default:
		return Verdict{Answer: text}
	}
}
