package agent

import (
	"fmt"
	"regexp"
	"strings"

	"DeepResearch/internal/llm"
	"DeepResearch/internal/tools"
)

const (
	finalAnswerMarker = "Final Answer:"
	observationMarker = "Observation:"
)

var actionPattern = regexp.MustCompile(`(?im)^[ \t]*Action[ \t]*:[ \t]*([^\n]+?)[ \t]*\n[ \t]*Action[ \t]*Input[ \t]*:[ \t]*((?s:.*))`)

// reply is one parsed model turn.
type reply struct {
	thought string
	tool    string
	input   string
	final   string
	done    bool
}

// parseReply interprets a model turn. A turn with neither an action nor a
// final answer marker is taken as the final answer.
func parseReply(text string) reply {
	text = llm.StripReasoning(text)

	finalIdx := strings.Index(text, finalAnswerMarker)
	loc := actionPattern.FindStringSubmatchIndex(text)

	if finalIdx >= 0 && (loc == nil || finalIdx < loc[0]) {
		return reply{
			thought: thoughtOf(text[:finalIdx]),
			final:   strings.TrimSpace(text[finalIdx+len(finalAnswerMarker):]),
			done:    true,
		}
	}
	if loc == nil {
		return reply{final: strings.TrimSpace(text), done: true}
	}

	input := text[loc[4]:loc[5]]
	if i := strings.Index(input, observationMarker); i >= 0 {
		input = input[:i]
	}
	if i := strings.Index(input, finalAnswerMarker); i >= 0 {
		input = input[:i]
	}
	return reply{
		thought: thoughtOf(text[:loc[0]]),
		tool:    strings.Trim(strings.TrimSpace(text[loc[2]:loc[3]]), "`*\"'"),
		input:   strings.Trim(strings.TrimSpace(input), "`\""),
	}
}

func thoughtOf(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Thought:")
	return strings.TrimSpace(s)
}

func systemPrompt(role Role, set tools.Set) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s. %s\nYour personal goal is: %s\n\n", role.Name, role.Backstory, role.Goal)

	list := set.Sorted()
	if len(list) == 0 {
		sb.WriteString("You have no tools. Answer directly.\n\n")
		sb.WriteString("Use the following format:\n\nThought: your reasoning\nFinal Answer: the complete answer to the task\n")
		return sb.String()
	}

	sb.WriteString("You have access to the following tools:\n\n")
	names := make([]string, 0, len(list))
	for _, t := range list {
		fmt.Fprintf(&sb, "%s: %s\n", t.Name(), t.Description())
		names = append(names, t.Name())
	}
	fmt.Fprintf(&sb, `
Use the following format:

Thought: you should always think about what to do
Action: the action to take, only one name of [%s]
Action Input: the input to the action
Observation: the result of the action

This Thought/Action/Action Input/Observation can repeat. Once you know the answer, respond with:

Thought: I now know the final answer
Final Answer: the complete answer to the task
`, strings.Join(names, ", "))
	return sb.String()
}

func taskPrompt(task Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current Task: %s\n\n", strings.TrimSpace(task.Description))
	if ctx := strings.TrimSpace(task.Context); ctx != "" {
		fmt.Fprintf(&sb, "This is the context you're working with:\n%s\n\n", ctx)
	}
	fmt.Fprintf(&sb, "This is the expected criteria for your final answer: %s\n\n", strings.TrimSpace(task.ExpectedOutput))
	sb.WriteString("You MUST return the actual complete content as the final answer, not a summary.\n\nBegin!")
	return sb.String()
}
