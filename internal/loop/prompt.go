package loop

import "strings"

// BuildSystemPrompt assembles the system prompt in a fixed section order:
// role description, tool-use protocol with per-tool usage blocks,
// follow-up-question protocol, completion protocol, rules, objective, then
// user-supplied and project-supplied rules (in that priority). It is a pure
// function of its inputs — identical inputs always produce byte-identical
// output.
func BuildSystemPrompt(basePrompt string, tools []ToolSchema, lang Language, userRules, projectRules string) string {
	var b strings.Builder

	b.WriteString(strings.TrimRight(basePrompt, "\n"))
	b.WriteString("\n\n")

	b.WriteString(toolProtocolHeading(lang))
	b.WriteString("\n\n")
	for _, tool := range tools {
		b.WriteString(renderToolBlock(tool, lang))
		b.WriteString("\n")
	}

	b.WriteString(followupProtocol(lang))
	b.WriteString("\n\n")

	b.WriteString(completionProtocol(lang))
	b.WriteString("\n\n")

	b.WriteString(rulesHeading(lang))
	b.WriteString("\n\n")

	b.WriteString(objectiveText(lang))

	if strings.TrimSpace(userRules) != "" {
		b.WriteString("\n\n")
		b.WriteString(userRulesHeading(lang))
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(userRules))
	}

	if strings.TrimSpace(projectRules) != "" {
		b.WriteString("\n\n")
		b.WriteString(projectRulesHeading(lang))
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(projectRules))
	}

	return b.String()
}

func renderToolBlock(tool ToolSchema, lang Language) string {
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(tool.Name)
	b.WriteString("\n")
	b.WriteString(tool.Description)
	b.WriteString("\n")
	b.WriteString(usageLabel(lang))
	b.WriteString(":\n<")
	b.WriteString(tool.Name)
	b.WriteString(">\n")
	for _, p := range tool.Params {
		b.WriteString("<")
		b.WriteString(p.Name)
		b.WriteString(">")
		b.WriteString(p.Type)
		if p.Required {
			b.WriteString(", ")
			b.WriteString(requiredLabel(lang))
		}
		if p.Description != "" {
			b.WriteString(" — ")
			b.WriteString(p.Description)
		}
		b.WriteString("</")
		b.WriteString(p.Name)
		b.WriteString(">\n")
	}
	b.WriteString("</")
	b.WriteString(tool.Name)
	b.WriteString(">\n")
	return b.String()
}

func toolProtocolHeading(lang Language) string {
	if lang == LangZH {
		return "# 工具使用协议\n你每次回复必须使用下列直接标签形式之一调用工具："
	}
	return "# Tool Use Protocol\nEvery reply must invoke at most one tool, using the direct-tag form below:"
}

func followupProtocol(lang Language) string {
	if lang == LangZH {
		return "# 追问协议\n若需要用户澄清，使用：\n<ask_followup_question>\n<question>...</question>\n<options>\n<option>...</option>\n</options>\n</ask_followup_question>"
	}
	return "# Follow-up Question Protocol\nWhen you need clarification from the user, use:\n<ask_followup_question>\n<question>...</question>\n<options>\n<option>...</option>\n</options>\n</ask_followup_question>"
}

func completionProtocol(lang Language) string {
	if lang == LangZH {
		return "# 任务完成协议\n任务完成时使用：\n<attempt_completion>\n<result>...</result>\n</attempt_completion>"
	}
	return "# Completion Protocol\nWhen the task is complete, use:\n<attempt_completion>\n<result>...</result>\n</attempt_completion>"
}

func rulesHeading(lang Language) string {
	if lang == LangZH {
		return "# 规则\n每次回复只能包含一个工具调用或一个 attempt_completion 或一个 ask_followup_question。"
	}
	return "# Rules\nEach reply contains exactly one of: a tool call, an attempt_completion, or an ask_followup_question."
}

func objectiveText(lang Language) string {
	if lang == LangZH {
		return "# 目标\n逐步推进任务，直到可以调用 attempt_completion。"
	}
	return "# Objective\nWork the task step by step until you can call attempt_completion."
}

func usageLabel(lang Language) string {
	if lang == LangZH {
		return "用法"
	}
	return "Usage"
}

func requiredLabel(lang Language) string {
	if lang == LangZH {
		return "必填"
	}
	return "required"
}

func userRulesHeading(lang Language) string {
	if lang == LangZH {
		return "# 用户规则"
	}
	return "# User Rules"
}

func projectRulesHeading(lang Language) string {
	if lang == LangZH {
		return "# 项目规则"
	}
	return "# Project Rules"
}
