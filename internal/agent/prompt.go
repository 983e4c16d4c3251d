package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chenapple/thesaurus-management/internal/llm"
)

func buildSystemPrompt(def Definition, task Task, toolDefs []llm.ToolDefinition) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s.\n\n", def.Role)
	fmt.Fprintf(&sb, "## Your goal\n%s\n\n", def.Goal)
	if def.Backstory != "" {
		fmt.Fprintf(&sb, "## Your background\n%s\n\n", def.Backstory)
	}
	fmt.Fprintf(&sb, "## Current task\n%s\n\n", task.Description)
	if task.ExpectedOutput != "" {
		fmt.Fprintf(&sb, "## Expected output\n%s\n\n", task.ExpectedOutput)
	}

	sb.WriteString("## Available tools\n")
	if len(toolDefs) == 0 {
		sb.WriteString("(no tools available)\n")
	}
	for _, t := range toolDefs {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}

	sb.WriteString(`
## How to work
1. Analyse what the task needs
2. Decide which information is missing
3. Call a tool when you need data
4. Reason over the data you collected
5. Give a complete answer

## Rules
- Only call the tools you need and do not repeat identical calls
- Summarise and analyse tool output instead of listing raw data
- If a tool call fails, look at the error and try another approach
- When the task is done, answer directly without calling more tools`)

	return sb.String()
}

func buildContextMessage(ctx map[string]any) (llm.Message, bool) {
	if len(ctx) == 0 {
		return llm.Message{}, false
	}
	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("%v", ctx))
	}
	return llm.NewTextMessage(llm.RoleUser, "Reference context:\n"+string(data)), true
}

// initialMessages seeds the history for a task.
func initialMessages(def Definition, task Task, toolDefs []llm.ToolDefinition) []llm.Message {
	messages := []llm.Message{
		llm.NewTextMessage(llm.RoleSystem, buildSystemPrompt(def, task, toolDefs)),
	}
	if msg, ok := buildContextMessage(task.Context); ok {
		messages = append(messages, msg)
	}
	return append(messages, llm.NewTextMessage(llm.RoleUser, task.Description))
}
