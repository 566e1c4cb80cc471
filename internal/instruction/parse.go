package instruction

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parser turns reply bodies into instructions using configured token sets.
type Parser struct {
	tokens Tokens
}

// NewParser creates a parser over the given token sets.
func NewParser(tokens Tokens) *Parser {
	return &Parser{tokens: tokens}
}

// Labeled candidate references, e.g. "选B", "候选 2", "candidate 2", "#2",
// "2号". Alternatives share one alternation so the first occurrence in
// reading order of the body wins when several forms are present.
var labeledIndexRe = regexp.MustCompile(`选\s*([a-cA-C1-9])|(?:候选|candidate)\s*#?\s*([0-9]+)|#([0-9]+)|([0-9]+)\s*号`)

// Numbered feedback lines, e.g. "1. avoid jargon" or "2、加数据".
var numberedLineRe = regexp.MustCompile(`^[0-9]+[.、]\s*`)

// Parse converts a reply body into an Instruction. candidateCount bounds
// index validation; pass 0 when the cycle size is unknown (debug tooling),
// which accepts any positive index.
//
// Branches are tried in priority order and the first trigger wins, so a
// body carrying both an approval and a revision token is a publish:
// approval intent is not overridden by incidental commentary.
func (p *Parser) Parse(body string, candidateCount int) Instruction {
	raw := body
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return Instruction{Action: ActionUnknown, Raw: raw}
	}
	lower := strings.ToLower(trimmed)

	// Feedback extraction runs first and unconditionally; any branch may
	// attach the buffer as auxiliary commentary.
	feedback := p.extractFeedback(trimmed)

	switch {
	case containsAny(lower, p.tokens.Publish):
		return p.publish(raw, lower, feedback, candidateCount)

	case containsAny(lower, p.tokens.Regenerate):
		return Instruction{
			Action:    ActionRegenerate,
			Direction: p.extractDirection(trimmed),
			Feedback:  feedback,
			Raw:       raw,
		}

	case containsAny(lower, p.tokens.Revise):
		idx, ok := extractIndex(lower, true)
		if !ok {
			idx = 1
		}
		if !validIndex(idx, candidateCount) {
			return Instruction{Action: ActionUnknown, Raw: raw}
		}
		critique := p.extractCritique(trimmed)
		if critique == "" {
			critique = feedback
		}
		if critique == "" {
			// Short imperative replies like "修改 2 开头太平淡" carry the
			// whole critique inline; pass the body through as-is.
			critique = trimmed
		}
		return Instruction{Action: ActionRevise, Candidate: idx, Feedback: critique, Raw: raw}

	case containsAny(lower, p.tokens.Skip):
		return Instruction{Action: ActionSkip, Feedback: feedback, Raw: raw}

	case containsAny(lower, p.tokens.View):
		idx, ok := extractIndex(lower, true)
		if !ok {
			idx = 1
		}
		if !validIndex(idx, candidateCount) {
			return Instruction{Action: ActionUnknown, Raw: raw}
		}
		return Instruction{Action: ActionView, Candidate: idx, Raw: raw}
	}

	// No action token, but a bare candidate reference ("选B", "candidate 2",
	// or a reply that is just a number) still reads as a selection.
	if idx, ok := extractBareSelection(lower); ok {
		if !validIndex(idx, candidateCount) {
			return Instruction{Action: ActionUnknown, Raw: raw}
		}
		return Instruction{Action: ActionPublish, Candidate: idx, Feedback: feedback, Raw: raw}
	}

	return Instruction{Action: ActionUnknown, Raw: raw}
}

func (p *Parser) publish(raw, lower, feedback string, candidateCount int) Instruction {
	idx, ok := extractIndex(lower, true)
	if !ok {
		// Approval with commentary but no number means the first candidate.
		// Approval with neither carries no target to act on.
		if feedback == "" {
			return Instruction{Action: ActionUnknown, Raw: raw}
		}
		idx = 1
	}
	if !validIndex(idx, candidateCount) {
		return Instruction{Action: ActionUnknown, Raw: raw}
	}
	return Instruction{Action: ActionPublish, Candidate: idx, Feedback: feedback, Raw: raw}
}

// extractIndex finds a candidate reference in the lower-cased body. The
// first labeled match in reading order wins; when withBare is set and no
// labeled reference exists, the first standalone digit token (as in
// "publish 2" or "修改 2 增加数据") is accepted.
func extractIndex(lower string, withBare bool) (int, bool) {
	if m := labeledIndexRe.FindStringSubmatch(lower); m != nil {
		if m[1] != "" {
			r := rune(m[1][0])
			if unicode.IsDigit(r) {
				return int(r - '0'), true
			}
			return int(unicode.ToLower(r)-'a') + 1, true
		}
		for _, g := range m[2:] {
			if g != "" {
				n, err := strconv.Atoi(g)
				if err != nil {
					return 0, false
				}
				return n, true
			}
		}
	}

	if withBare {
		for _, field := range strings.Fields(lower) {
			field = strings.TrimRight(field, ".!,。！，")
			if len(field) == 0 || len(field) > 2 {
				continue
			}
			if n, err := strconv.Atoi(field); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// extractBareSelection is the fallback for reference-only replies. It is
// stricter than extractIndex: only labeled forms or an all-digit body
// qualify, so a digit buried in prose does not trigger a publish.
func extractBareSelection(lower string) (int, bool) {
	if labeledIndexRe.MatchString(lower) {
		return extractIndex(lower, false)
	}
	if n, err := strconv.Atoi(lower); err == nil && n > 0 {
		return n, true
	}
	return 0, false
}

func validIndex(idx, candidateCount int) bool {
	if idx < 1 {
		return false
	}
	return candidateCount <= 0 || idx <= candidateCount
}

// extractFeedback collects free-text commentary lines: numbered list items
// and lines carrying suggestion/avoidance tokens.
func (p *Parser) extractFeedback(body string) string {
	var items []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if numberedLineRe.MatchString(line) || containsAny(strings.ToLower(line), p.tokens.Suggestion) {
			items = append(items, line)
		}
	}
	return strings.Join(items, "\n")
}

// extractCritique collects the lines that describe what to change,
// newline-joined, for the revise payload.
func (p *Parser) extractCritique(body string) string {
	var items []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if containsAny(strings.ToLower(line), p.tokens.Critique) {
			items = append(items, line)
		}
	}
	return strings.Join(items, "\n")
}

// extractDirection pulls the regeneration hint from the first line that
// carries a direction token: the text after the first colon-like
// separator, or the whole line when there is none.
func (p *Parser) extractDirection(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if trimmedLine == "" || !containsAny(strings.ToLower(trimmedLine), p.tokens.Direction) {
			continue
		}
		rest := trimmedLine
		if i := strings.IndexAny(trimmedLine, "：:"); i >= 0 {
			_, size := utf8.DecodeRuneInString(trimmedLine[i:])
			rest = trimmedLine[i+size:]
		}
		return strings.TrimSpace(rest)
	}
	return ""
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if t != "" && strings.Contains(s, t) {
			return true
		}
	}
	return false
}
