package loop

import (
	"regexp"
	"strings"
)

// ParseKind discriminates the result of ParseReply.
type ParseKind string

const (
	KindCompletion  ParseKind = "completion"
	KindFollowup    ParseKind = "followup"
	KindToolCall    ParseKind = "tool_call"
	KindNoStructure ParseKind = "no_structure"
)

// ParseResult is the discriminated outcome of parsing one model reply.
// Reasoning is populated whenever a thinking/thought/think tag is present,
// independent of Kind.
type ParseResult struct {
	Kind ParseKind

	Reasoning string

	CompletionText string

	FollowupQuestion string
	FollowupOptions  []string

	ToolName   string
	ToolParams map[string]string
}

var identifierTag = regexp.MustCompile(`(?is)<([a-zA-Z_][\w-]*)\s*>`)

// firstOpenTag returns the byte offset just past the first "<tag>" (any
// casing) in s.
func firstOpenTag(s, tag string) (end int, ok bool) {
	re := regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(tag) + `\s*>`)
	loc := re.FindStringIndex(s)
	if loc == nil {
		return 0, false
	}
	return loc[1], true
}

// lastCloseTag returns the byte offset of the start of the last "</tag>" in s.
func lastCloseTag(s, tag string) (start, end int, ok bool) {
	re := regexp.MustCompile(`(?is)</` + regexp.QuoteMeta(tag) + `>`)
	locs := re.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return 0, 0, false
	}
	last := locs[len(locs)-1]
	return last[0], last[1], true
}

// extractGreedy implements greedy boundary extraction: it locates the first
// opening tag and the last closing tag for name, returning everything in
// between. This tolerates nested same-name tags inside the content (e.g.
// code blocks containing angle brackets) at the cost of being unable to
// distinguish truly sibling uses of the same tag name — callers that need
// sibling semantics (e.g. a list of <option> elements) must not use this.
func extractGreedy(s, name string) (string, bool) {
	openEnd, ok := firstOpenTag(s, name)
	if !ok {
		return "", false
	}
	closeStart, _, ok := lastCloseTag(s, name)
	if !ok || closeStart < openEnd {
		return "", false
	}
	return s[openEnd:closeStart], true
}

// extractSiblings splits a block into the ordered content of each top-level
// <tag>...</tag> occurrence, pairing every opening tag with its NEAREST
// closing tag rather than the last one, since siblings do not nest.
func extractSiblings(s, tag string) []string {
	openRe := regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(tag) + `\s*>`)
	closeRe := regexp.MustCompile(`(?is)</` + regexp.QuoteMeta(tag) + `>`)

	var out []string
	pos := 0
	for pos < len(s) {
		openLoc := openRe.FindStringIndex(s[pos:])
		if openLoc == nil {
			break
		}
		openEnd := pos + openLoc[1]
		closeLoc := closeRe.FindStringIndex(s[openEnd:])
		if closeLoc == nil {
			break
		}
		closeStart := openEnd + closeLoc[0]
		closeEnd := openEnd + closeLoc[1]
		out = append(out, strings.TrimSpace(s[openEnd:closeStart]))
		pos = closeEnd
	}
	return out
}

// extractChildParams scans the immediate children of a tool-call block,
// treating every <name>...</name> occurrence as one parameter. Each
// parameter's value is itself extracted with greedy boundaries so that
// nested content sharing the parameter's own tag name is tolerated.
func extractChildParams(block string) map[string]string {
	params := map[string]string{}
	pos := 0
	for pos < len(block) {
		loc := identifierTag.FindStringSubmatchIndex(block[pos:])
		if loc == nil {
			break
		}
		tagName := block[pos+loc[2] : pos+loc[3]]
		openEnd := pos + loc[1]

		closeStart, closeEnd, ok := lastCloseTag(block[openEnd:], tagName)
		if !ok {
			pos = openEnd
			continue
		}
		valStart := openEnd
		valEnd := openEnd + closeStart
		params[tagName] = strings.TrimSpace(block[valStart:valEnd])
		pos = openEnd + closeEnd
	}
	return params
}

// removeElement strips the first "<tag>...</tag>" occurrence (greedy
// boundaries) from s, used to exclude a known child element (e.g. the
// legacy tool_use form's <tool_name>) before scanning for the rest as params.
func removeElement(s, tag string) string {
	openTagRe := regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(tag) + `\s*>`)
	openLoc := openTagRe.FindStringIndex(s)
	if openLoc == nil {
		return s
	}
	_, closeEnd, ok := lastCloseTag(s[openLoc[1]:], tag)
	if !ok {
		return s
	}
	absCloseEnd := openLoc[1] + closeEnd
	return s[:openLoc[0]] + s[absCloseEnd:]
}

func extractReasoning(text string) string {
	for _, tag := range []string{"thinking", "thought", "think"} {
		if v, ok := extractGreedy(text, tag); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func tryCompletion(text string) (string, bool) {
	if block, ok := extractGreedy(text, "attempt_completion"); ok {
		if result, ok2 := extractGreedy(block, "result"); ok2 {
			return result, true
		}
		return strings.TrimSpace(block), true
	}
	if fa, ok := extractGreedy(text, "final_answer"); ok {
		return strings.TrimSpace(fa), true
	}
	return "", false
}

func tryFollowup(text string) (question string, options []string, ok bool) {
	block, found := extractGreedy(text, "ask_followup_question")
	if !found {
		return "", nil, false
	}
	q, foundQ := extractGreedy(block, "question")
	if !foundQ {
		return "", nil, false
	}
	var opts []string
	if optsBlock, foundO := extractGreedy(block, "options"); foundO {
		opts = extractSiblings(optsBlock, "option")
	}
	return strings.TrimSpace(q), opts, true
}

func tryToolCall(text string, toolNames []string) (name string, params map[string]string, ok bool) {
	for _, tn := range toolNames {
		if block, found := extractGreedy(text, tn); found {
			return tn, extractChildParams(block), true
		}
	}
	if block, found := extractGreedy(text, "tool_use"); found {
		if nameBlock, found2 := extractGreedy(block, "tool_name"); found2 {
			toolName := strings.TrimSpace(nameBlock)
			rest := removeElement(block, "tool_name")
			return toolName, extractChildParams(rest), true
		}
	}
	return "", nil, false
}

// ParseReply classifies one model reply against the wire-format grammar in
// priority order: completion, followup, tool call (direct-tag then legacy),
// otherwise no_structure. toolNames is the set of valid tool names for this
// run; any other <tag> is not mistaken for a tool call.
func ParseReply(text string, toolNames []string) ParseResult {
	reasoning := extractReasoning(text)

	if completion, ok := tryCompletion(text); ok {
		return ParseResult{Kind: KindCompletion, Reasoning: reasoning, CompletionText: completion}
	}
	if q, opts, ok := tryFollowup(text); ok {
		return ParseResult{Kind: KindFollowup, Reasoning: reasoning, FollowupQuestion: q, FollowupOptions: opts}
	}
	if name, params, ok := tryToolCall(text, toolNames); ok {
		return ParseResult{Kind: KindToolCall, Reasoning: reasoning, ToolName: name, ToolParams: params}
	}
	return ParseResult{Kind: KindNoStructure, Reasoning: reasoning}
}

var codeFenceRe = regexp.MustCompile("(?s)^```[a-zA-Z0-9]*\\n(.*)\\n```$")

// NormalizeCompletion trims surrounding whitespace and a single pair of
// enclosing markdown code fences from a completion's result text.
func NormalizeCompletion(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}
