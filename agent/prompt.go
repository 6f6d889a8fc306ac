package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/crewflow/types"
)

// Built-in tools offered to the model. They never reach the ToolRegistry;
// calls to them are turned into outcomes.
const (
	ToolDelegateWork = "delegate_work"
	ToolAskHuman     = "ask_human"
)

// Text markers recognised at the start of a model answer.
const (
	markerDelegate = "DELEGATE TO:"
	markerTask     = "TASK:"
	markerClarify  = "CLARIFY:"
	markerFinal    = "FINAL ANSWER:"
)

const maxIterationsNotice = "You have reached the maximum number of tool iterations. Give your final answer now without calling any tool."

func isReservedTool(name string) bool {
	return name == ToolDelegateWork || name == ToolAskHuman
}

var delegateSchema = types.ToolSchema{
	Name:        ToolDelegateWork,
	Description: "Delegate a specific sub-task to a coworker. Provide the coworker role and a self-contained task description.",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"coworker":{"type":"string"},"task":{"type":"string"}},"required":["coworker","task"]}`),
}

var askHumanSchema = types.ToolSchema{
	Name:        ToolAskHuman,
	Description: "Ask the human operator a clarifying question. The run pauses until an answer arrives.",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"question":{"type":"string"}},"required":["question"]}`),
}

// systemPrompt renders the worker persona.
func systemPrompt(cfg Config, memory []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", cfg.Role)
	if cfg.Backstory != "" {
		b.WriteString(" ")
		b.WriteString(cfg.Backstory)
	}
	if cfg.Goal != "" {
		fmt.Fprintf(&b, "\nYour personal goal is: %s", cfg.Goal)
	}
	if cfg.AllowDelegation {
		b.WriteString("\n\nIf part of the task belongs to a coworker, answer with:\n")
		b.WriteString(markerDelegate + " <coworker role>\n" + markerTask + " <self-contained sub-task>")
	}
	b.WriteString("\n\nIf you cannot proceed without human input, answer with:\n")
	b.WriteString(markerClarify + " <question>")
	if len(memory) > 0 {
		b.WriteString("\n\nRelevant results of your previous tasks:")
		for _, m := range memory {
			b.WriteString("\n- ")
			b.WriteString(m)
		}
	}
	return b.String()
}

// userPrompt renders the task and the upstream context.
func userPrompt(task Task, context string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current Task: %s", task.Description)
	if task.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\n\nThis is the expected criteria for your final answer: %s", task.ExpectedOutput)
	}
	if strings.TrimSpace(context) != "" {
		fmt.Fprintf(&b, "\n\nThis is the context you're working with:\n%s", context)
	}
	return b.String()
}

// parseAnswer converts the final model text into an Outcome.
func parseAnswer(text string) Outcome {
	trimmed := strings.TrimSpace(text)

	switch {
	case hasPrefixFold(trimmed, markerClarify):
		return &ClarificationRequest{Question: strings.TrimSpace(trimmed[len(markerClarify):])}

	case hasPrefixFold(trimmed, markerDelegate):
		lines := strings.Split(trimmed[len(markerDelegate):], "\n")
		target := strings.TrimSpace(lines[0])
		var desc []string
		for i, line := range lines[1:] {
			if l := strings.TrimSpace(line); hasPrefixFold(l, markerTask) {
				desc = append([]string{strings.TrimSpace(l[len(markerTask):])}, lines[i+2:]...)
				break
			}
		}
		return &DelegationRequest{
			TargetHint:     target,
			SubDescription: strings.TrimSpace(strings.Join(desc, "\n")),
		}
	}

	if hasPrefixFold(trimmed, markerFinal) {
		trimmed = strings.TrimSpace(trimmed[len(markerFinal):])
	}
	return &Result{Text: trimmed, Structured: extractJSON(trimmed)}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// parseBuiltinCall converts a call to a built-in tool into an Outcome.
func parseBuiltinCall(call types.ToolCall) (Outcome, error) {
	switch call.Name {
	case ToolDelegateWork:
		var args struct {
			Coworker string `json:"coworker"`
			Task     string `json:"task"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", call.Name, err)
		}
		return &DelegationRequest{TargetHint: args.Coworker, SubDescription: args.Task}, nil
	case ToolAskHuman:
		var args struct {
			Question string `json:"question"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", call.Name, err)
		}
		return &ClarificationRequest{Question: args.Question}, nil
	}
	return nil, fmt.Errorf("%s is not a built-in tool", call.Name)
}

// extractJSON returns the answer as raw JSON when it is a JSON object or
// array, optionally wrapped in a markdown code fence.
func extractJSON(text string) json.RawMessage {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil
	}
	if !json.Valid([]byte(s)) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil
	}
	return buf.Bytes()
}
