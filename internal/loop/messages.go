package loop

import "strings"

// This file holds the language-dependent wording injected into history by
// the Engine: nudges, tool-result wrapping, and terminal messages. English
// and Chinese are supported per LoopConfig.Language; any other value falls
// back to English.

func cancelledMessage(lang Language) string {
	if lang == LangZH {
		return "任务已取消。"
	}
	return "The task was cancelled."
}

func noToolUsedNudge(lang Language) string {
	if lang == LangZH {
		return "你的回复没有使用任何工具，也没有调用 attempt_completion。请使用已注册的工具标签格式回复，或在任务完成时调用 attempt_completion。"
	}
	return "Your reply did not use a tool or call attempt_completion. Respond using one of the registered tool tags, or call attempt_completion if the task is finished."
}

func tooManyMistakesMessage(lang Language) string {
	if lang == LangZH {
		return "你已连续多次未能使用正确的工具调用格式。请严格按照协议，仅输出一个工具标签或一个 attempt_completion，不要输出其他内容。"
	}
	return "You have failed to use the correct format several times in a row. Respond with exactly one tool tag or one attempt_completion, and nothing else."
}

func missingParamMessage(lang Language, toolName string, missing []string) string {
	joined := strings.Join(missing, ", ")
	if lang == LangZH {
		return "调用工具 " + toolName + " 时缺少必填参数: " + joined + "。请携带完整参数重试，或使用 ask_followup_question 向用户询问缺失的信息。"
	}
	return "The call to " + toolName + " is missing required parameter(s): " + joined + ". Retry with the full parameter set, or use ask_followup_question to ask the user for the missing information."
}

func toolFollowOnInstruction(lang Language) string {
	if lang == LangZH {
		return "请根据以上结果决定下一步操作，或在任务完成时调用 attempt_completion。"
	}
	return "Decide the next action based on the result above, or call attempt_completion if the task is finished."
}

func forcedCompletionInstruction(lang Language) string {
	if lang == LangZH {
		return "已达到最大迭代次数。请立即使用 attempt_completion 给出当前可得的最终结果，不要再调用任何工具。"
	}
	return "The maximum number of iterations has been reached. Call attempt_completion now with the best final answer available; do not call any further tool."
}

func noPrompterAnswer(lang Language) string {
	if lang == LangZH {
		return "当前没有可用的用户交互通道，请基于已有信息继续完成任务。"
	}
	return "No user interaction is available right now; proceed with the task using the information you already have."
}

func fallbackFollowupAnswer(lang Language) string {
	if lang == LangZH {
		return "未能获取用户回答，请基于已有信息继续完成任务。"
	}
	return "The user's answer could not be retrieved; proceed with the task using the information you already have."
}

func toolUseResultMessage(lang Language, toolName, observation string) string {
	return "[Tool Use Result: " + toolName + "]\n\n" + observation + "\n\n" + toolFollowOnInstruction(lang)
}

func repetitionNotice(lang Language, description string) string {
	if lang == LangZH {
		return "检测到重复行为: " + description + "。请换一种思路，或基于已有信息调用 attempt_completion。"
	}
	return "Repetitive behavior detected: " + description + ". Try a different approach, or call attempt_completion using the information already gathered."
}

func toolFailedObservation(toolName string, err error) string {
	return "Tool " + toolName + " failed: " + err.Error()
}

// concatObservations builds a last-resort final answer from the
// observations accumulated so far, used only when the forced-completion
// call itself fails.
func concatObservations(steps []AgentStep) string {
	var parts []string
	for _, s := range steps {
		if s.Status == StatusObserving && s.Observation != "" {
			parts = append(parts, s.Observation)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n")
}
