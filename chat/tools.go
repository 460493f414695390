package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/aiter/llm"
)

// toolCallRecord is the serialized {description, parameters, result}
// shape appended to the candidate set for each successful tool call.
type toolCallRecord struct {
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters"`
	Result      string            `json:"result"`
}

// dispatchSkills runs vector-mode skill
// retrieval, exposing matches as function definitions, and running
// whatever calls the LLM chooses through cfg.Tools. Returns the
// serialized results to fold into the candidate set plus the
// CallToolTask records for the final history blob.
func (o *Orchestrator) dispatchSkills(ctx context.Context, chatLLM llm.Provider, question string, related []string, opts Options, out chan<- ChatEvent) ([]string, []CallToolTask, error) {
	skills, err := o.cfg.Retrieval.RetrieveSkills(ctx, question, related)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieving skills: %w", err)
	}
	if len(skills) == 0 {
		return nil, nil, nil
	}

	functions := make([]llm.FunctionDef, len(skills))
	bySkillName := make(map[string]string, len(skills)) // function name -> skill ID
	for i, sk := range skills {
		functions[i] = llm.FunctionDef{
			Name:        sk.ID,
			Description: fmt.Sprintf("%s: %s", sk.Context, sk.Content),
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		}
		bySkillName[sk.ID] = sk.ID
	}

	calls, err := chatLLM.FunctionCalls(ctx, []llm.Message{{Role: "user", Content: question}}, functions)
	if err != nil {
		return nil, nil, fmt.Errorf("chat_function_calls: %w", err)
	}
	if len(calls) == 0 {
		return nil, nil, nil
	}

	var results []string
	var tasks []CallToolTask
	for _, call := range calls {
		skillID, ok := bySkillName[call.Name]
		if !ok {
			continue
		}
		toolID, err := o.cfg.Store.GetSkillToolID(ctx, skillID)
		if err != nil {
			slog.Warn("chat: resolving skill tool_id", "skill", skillID, "error", err)
			continue
		}

		task := CallToolTask{ID: NewULID(), ToolID: toolID, Name: call.Name, Args: call.Arguments}
		tasks = append(tasks, task)
		if !o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventCallToolStart, Task: &task}) {
			return results, tasks, nil
		}

		result, runErr := o.cfg.Tools.Run(ctx, toolID, call.Arguments)
		if runErr != nil {
			o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventCallToolError, TaskID: task.ID, Err: runErr})
			continue
		}
		o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventCallToolEnd, TaskID: task.ID, Result: result})

		var description string
		for _, f := range functions {
			if f.Name == call.Name {
				description = f.Description
			}
		}
		rec := toolCallRecord{Description: description, Parameters: call.Arguments, Result: result}
		blob, _ := json.Marshal(rec)
		results = append(results, string(blob))
	}
	return results, tasks, nil
}
