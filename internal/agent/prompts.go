package agent

import (
	"fmt"
	"strings"

	"github.com/klubi/reagent/internal/conversation"
	"github.com/klubi/reagent/internal/llm"
	"github.com/klubi/reagent/internal/parser"
	"github.com/klubi/reagent/internal/tools"
)

const planningPrompt = `You are a helpful AI assistant.
Create a concise, step-by-step plan to answer the user's question.
Output ONLY the plan as a numbered list. Do not execute any actions yet.`

const nativeActingPrompt = `You are a helpful AI assistant that uses tools to answer questions.

CRITICAL: You MUST use the provided tools by making actual function calls. Do NOT write JSON descriptions of tool calls - the system will automatically format them for you.

Follow this pattern:
1. Make a tool call to gather information
2. Wait for the result
3. Reflect on the result
4. Continue with more tool calls if needed
5. Provide final answer when you have enough information`

// textSystemPrompt renders the ReAct instructions for g and the registered tools.
func textSystemPrompt(g parser.Grammar, specs []tools.Spec) string {
	thought := g.Marker(parser.SectionThought)
	action := g.Marker(parser.SectionAction)
	final := g.Marker(parser.SectionFinalAnswer)

	var toolList []string
	for _, s := range specs {
		toolList = append(toolList, fmt.Sprintf("%s (%s)", s.Name, strings.TrimSuffix(s.Description, ".")))
	}
	example := tools.ShellToolName
	if len(specs) > 0 {
		example = specs[0].Name
	}

	var b strings.Builder
	b.WriteString("You are an AI agent that solves tasks iteratively using Reasoning and Acting (ReAct).\n")
	b.WriteString("Your response MUST be in the following format for each step:\n")
	fmt.Fprintf(&b, "%s [Your reasoning process here]\n", thought)
	b.WriteString("ONE OF THE FOLLOWING ELEMENTS:\n")
	fmt.Fprintf(&b, "%s [tool_name: argument]\n", action)
	b.WriteString("OR\n")
	fmt.Fprintf(&b, "%s [your final answer]\n\n", final)
	b.WriteString("Explanation about these possible output sections:\n")
	fmt.Fprintf(&b, "- %s Reason step-by-step about what to do next.\n", thought)
	fmt.Fprintf(&b, "- %s If needed, call a tool in the format 'tool_name: argument'. Available tools: %s (e.g., '%s: ls -l /home').\n",
		action, strings.Join(toolList, ", "), example)
	fmt.Fprintf(&b, "- If you have the final answer, output '%s [your answer]'.\n\n", final)
	fmt.Fprintf(&b, "If you need to run several commands, don't suggest more than one command in %s section, you will get another turn to suggest subsequent tools to call.\n", action)
	fmt.Fprintf(&b, "You can't have multiple instances of %s in one response, make all the thoughts appear in one %s element.\n", thought, thought)
	fmt.Fprintf(&b, "Make sure to never provide both %s and %s elements in one response.\n", action, final)
	fmt.Fprintf(&b, "Even if action to perform is none, do not add %s section to the response.\n", action)
	b.WriteString("Do not repeat actions unnecessarily. Stop when the query is solved.\n")
	b.WriteString("Do not try to install additional software on the computer where you are being executed.")
	return b.String()
}

// seededQuery folds a plan into the acting phase's opening user turn.
func seededQuery(query, plan string) string {
	return fmt.Sprintf("Original question: %s\n\nPlan to follow:\n%s\n\nNow execute this plan using available tools.", query, plan)
}

// nativeExamples is a one-shot demonstration of a correct structured call.
func nativeExamples() []conversation.Turn {
	return []conversation.Turn{
		{Role: conversation.RoleUser, Content: "What is the current directory?"},
		{
			Role:    conversation.RoleAssistant,
			Content: "I'll use the run_shell_command tool to check the current directory.",
			Calls: []conversation.ToolCall{{
				ID:        "call_example",
				Name:      tools.ShellToolName,
				Arguments: map[string]any{"command": "pwd"},
			}},
		},
		{Role: conversation.RoleObservation, Content: "/home/user/projects", CallID: "call_example"},
		{Role: conversation.RoleAssistant, Content: "The current directory is /home/user/projects"},
	}
}

// textMessages maps turns for backends that only see free text. Observations
// become user turns prefixed with "Observation: ".
func textMessages(turns []conversation.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleObservation:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: "Observation: " + t.Content})
		default:
			out = append(out, llm.Message{Role: string(t.Role), Content: t.Content})
		}
	}
	return out
}

// nativeMessages maps turns for tool-calling backends. Observations become
// tool messages naming the tool whose call they answer.
func nativeMessages(turns []conversation.Turn) []llm.Message {
	names := make(map[string]string)
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleObservation:
			out = append(out, llm.Message{Role: llm.RoleTool, Content: t.Content, ToolName: names[t.CallID]})
		case conversation.RoleAssistant:
			m := llm.Message{Role: llm.RoleAssistant, Content: t.Content}
			for _, c := range t.Calls {
				names[c.ID] = c.Name
				m.ToolCalls = append(m.ToolCalls, llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
			}
			out = append(out, m)
		default:
			out = append(out, llm.Message{Role: string(t.Role), Content: t.Content})
		}
	}
	return out
}

func blockedMessage(argument, rationale string) string {
	return fmt.Sprintf("Error: Command '%s' was blocked by the safety guard as potentially harmful (safety check said: %q). The command was not executed.",
		argument, rationale)
}
