package loop

// TokenEstimator estimates the token cost of a message history. The
// contract only requires the estimate to be consistent enough to drive the
// soft-budget truncation decision in §4.3; implementations may trade
// precision for speed.
type TokenEstimator interface {
	EstimateMessages(msgs []ChatMessage) int
}

// CharEstimator is the default coarse heuristic: total characters across all
// message contents divided by 4, rounded up. Content-part messages sum only
// their text parts.
type CharEstimator struct{}

// EstimateMessages implements TokenEstimator.
func (CharEstimator) EstimateMessages(msgs []ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += len([]rune(contentText(m.Content)))
	}
	return (total + 3) / 4
}

// Severity is the degree of middle truncation applied.
type Severity string

const (
	SeverityNone    Severity = "none"
	SeverityHalf    Severity = "half"
	SeverityQuarter Severity = "quarter"
)

// Truncate applies §4.3 middle truncation to history given an estimator and
// the per-call max-tokens configuration. It returns the (possibly
// unmodified) history and whether truncation occurred.
//
// Indices 0 and 1 are always preserved. When estimated tokens exceed 80% of
// maxTokens and history holds more than four messages, a contiguous range
// of pairs starting at index 2 is removed and replaced with one notice
// message. Severity "half" removes roughly a quarter of the messages after
// index 1; "quarter" removes roughly three-eighths, and is selected when
// current tokens exceed twice the soft budget.
func Truncate(history []ChatMessage, estimator TokenEstimator, maxTokens int, lang Language) ([]ChatMessage, bool) {
	if estimator == nil {
		estimator = CharEstimator{}
	}
	softBudget := (maxTokens * 8) / 10
	tokens := estimator.EstimateMessages(history)
	if tokens <= softBudget || len(history) <= 4 {
		return history, false
	}

	severity := SeverityHalf
	if tokens > 2*softBudget {
		severity = SeverityQuarter
	}

	tailLen := len(history) - 2
	var removeCount int
	if severity == SeverityHalf {
		removeCount = tailLen / 4
	} else {
		removeCount = (tailLen * 3) / 8
	}
	if removeCount%2 != 0 {
		removeCount--
	}
	if removeCount > tailLen {
		removeCount = tailLen
		if removeCount%2 != 0 {
			removeCount--
		}
	}
	if removeCount < 2 {
		return history, false
	}

	removeStart := 2
	removeEnd := removeStart + removeCount
	if removeEnd-1 >= 0 && removeEnd-1 < len(history) && history[removeEnd-1].Role != RoleAssistant {
		removeEnd--
	}
	if removeEnd <= removeStart {
		return history, false
	}

	notice := ChatMessage{Role: RoleAssistant, Content: TextContent(truncationNotice(lang))}

	result := make([]ChatMessage, 0, len(history)-(removeEnd-removeStart)+1)
	result = append(result, history[:2]...)
	result = append(result, notice)
	result = append(result, history[removeEnd:]...)
	return result, true
}

func truncationNotice(lang Language) string {
	if lang == LangZH {
		return "[系统提示] 由于对话过长，中间部分历史记录已被截断以节省上下文空间。"
	}
	return "[system notice] Earlier parts of this conversation were truncated to stay within the context window."
}
