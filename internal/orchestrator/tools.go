package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/agentos/internal/infra"
	"github.com/haasonsaas/agentos/internal/tools"
	"github.com/haasonsaas/agentos/pkg/models"
)

// Tools exposes the coordination surface to an agent: spawn, send,
// broadcast, pipeline, and supervisor. callerID names the delegating
// agent in the prompts it sends.
func Tools(reg *Registry, callerID string) []*tools.Entry {
	return []*tools.Entry{
		spawnTool(reg, callerID),
		sendTool(reg, callerID),
		broadcastTool(reg, callerID),
		pipelineTool(reg, callerID),
		supervisorTool(reg, callerID),
	}
}

// delegationPrompt is the task text a delegated agent receives.
func delegationPrompt(caller, task, context string) string {
	prompt := fmt.Sprintf("[Delegated from %s]\nTask: %s", caller, task)
	if context != "" {
		prompt += "\nContext: " + context
	}
	return prompt
}

// dispatchText sends one task to an agent and returns the last assistant
// text from the event stream. maxExchanges > 0 stops listening after
// that many assistant messages; 0 waits for the run to finish.
func dispatchText(ctx context.Context, reg *Registry, callerID, targetID, text string, maxExchanges int) (string, error) {
	entry, err := reg.Resolve(targetID)
	if err != nil {
		return "", err
	}
	env := models.NewEnvelope(models.EventTaskRequest, "agent://"+callerID, "agent://"+targetID)
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	env.Data = data

	queue, err := entry.Dispatch(ctx, env)
	if err != nil {
		return "", err
	}
	return lastAssistantText(ctx, queue, maxExchanges)
}

// lastAssistantText drains the queue and keeps the final assistant
// message. An empty run is an error; the caller asked for a response.
func lastAssistantText(ctx context.Context, queue *infra.EventQueue[models.AgentEvent], maxExchanges int) (string, error) {
	var last string
	exchanges := 0
	for {
		ev, err := queue.Next(ctx)
		if errors.Is(err, infra.ErrQueueComplete) {
			if last == "" {
				return "", errors.New("agent produced no response")
			}
			return last, nil
		}
		if err != nil {
			return "", err
		}
		if ev.Type == models.AgentEventAssistantMessage && ev.Text != "" {
			last = ev.Text
			exchanges++
			if maxExchanges > 0 && exchanges >= maxExchanges {
				return last, nil
			}
		}
	}
}

func spawnTool(reg *Registry, callerID string) *tools.Entry {
	return &tools.Entry{
		Definition: models.ToolDefinition{
			Name:        "agent_spawn",
			Description: "Delegate a task to another agent and wait for its response.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"target_agent": {"type": "string", "description": "Agent to delegate to"},
					"task": {"type": "string", "description": "What the agent should do"},
					"context": {"type": "string", "description": "Background the agent needs"}
				},
				"required": ["target_agent", "task"]
			}`),
			Annotations: models.ToolAnnotations{RiskLevel: models.RiskYellow},
		},
		Source: models.SourceOrchestration,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			target, _ := args["target_agent"].(string)
			task, _ := args["task"].(string)
			if target == "" || task == "" {
				return nil, errors.New("target_agent and task are required")
			}
			taskContext, _ := args["context"].(string)
			return dispatchText(ctx, reg, callerID, target, delegationPrompt(callerID, task, taskContext), 0)
		},
	}
}

func sendTool(reg *Registry, callerID string) *tools.Entry {
	return &tools.Entry{
		Definition: models.ToolDefinition{
			Name:        "agent_send",
			Description: "Send a message to another agent. Fire-and-forget by default; set wait_for_reply for a response.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"target_agent": {"type": "string", "description": "Agent to message"},
					"message": {"type": "string", "description": "Message text"},
					"wait_for_reply": {"type": "boolean", "description": "Block until the agent responds"},
					"max_exchanges": {"type": "integer", "description": "With wait_for_reply, return after this many assistant replies"}
				},
				"required": ["target_agent", "message"]
			}`),
			Annotations: models.ToolAnnotations{RiskLevel: models.RiskYellow},
		},
		Source: models.SourceOrchestration,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			target, _ := args["target_agent"].(string)
			message, _ := args["message"].(string)
			if target == "" || message == "" {
				return nil, errors.New("target_agent and message are required")
			}
			wait, _ := args["wait_for_reply"].(bool)
			maxExchanges := 0
			if v, ok := args["max_exchanges"].(float64); ok {
				maxExchanges = int(v)
			}

			if wait {
				return dispatchText(ctx, reg, callerID, target, message, maxExchanges)
			}

			entry, err := reg.Resolve(target)
			if err != nil {
				return nil, err
			}
			env := models.NewEnvelope(models.EventTaskRequest, "agent://"+callerID, "agent://"+target)
			data, err := json.Marshal(map[string]string{"text": message})
			if err != nil {
				return nil, err
			}
			env.Data = data
			queue, err := entry.Dispatch(context.WithoutCancel(ctx), env)
			if err != nil {
				return nil, err
			}
			// Drain in the background so the producer never stalls.
			go func() {
				for {
					if _, err := queue.Next(context.Background()); err != nil {
						return
					}
				}
			}()
			return fmt.Sprintf("Message sent to %s", target), nil
		},
	}
}

// broadcastResult is one agent's outcome in a broadcast.
type broadcastResult struct {
	Agent    string `json:"agent"`
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

func broadcastTool(reg *Registry, callerID string) *tools.Entry {
	return &tools.Entry{
		Definition: models.ToolDefinition{
			Name:        "broadcast",
			Description: "Send the same message to several agents concurrently and collect every outcome.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"agents": {"type": "array", "items": {"type": "string"}, "description": "Agents to message"},
					"message": {"type": "string", "description": "Message text"}
				},
				"required": ["agents", "message"]
			}`),
			Annotations: models.ToolAnnotations{RiskLevel: models.RiskYellow},
		},
		Source: models.SourceOrchestration,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			rawAgents, _ := args["agents"].([]any)
			message, _ := args["message"].(string)
			if len(rawAgents) == 0 || message == "" {
				return nil, errors.New("agents and message are required")
			}

			agents := make([]string, 0, len(rawAgents))
			for _, raw := range rawAgents {
				if id, ok := raw.(string); ok && id != "" {
					agents = append(agents, id)
				}
			}

			results := make([]broadcastResult, len(agents))
			var wg sync.WaitGroup
			for i, id := range agents {
				wg.Add(1)
				go func(i int, id string) {
					defer wg.Done()
					text, err := dispatchText(ctx, reg, callerID, id, message, 0)
					if err != nil {
						results[i] = broadcastResult{Agent: id, Status: "rejected", Error: err.Error()}
						return
					}
					results[i] = broadcastResult{Agent: id, Status: "fulfilled", Response: text}
				}(i, id)
			}
			wg.Wait()
			return results, nil
		},
	}
}

func pipelineTool(reg *Registry, callerID string) *tools.Entry {
	return &tools.Entry{
		Definition: models.ToolDefinition{
			Name:        "pipeline",
			Description: "Run agents in sequence, feeding each stage's output into the next stage's task.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"stages": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"agent": {"type": "string"},
								"task": {"type": "string"}
							},
							"required": ["agent", "task"]
						},
						"description": "Ordered pipeline stages"
					}
				},
				"required": ["stages"]
			}`),
			Annotations: models.ToolAnnotations{RiskLevel: models.RiskYellow},
		},
		Source: models.SourceOrchestration,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			rawStages, _ := args["stages"].([]any)
			if len(rawStages) == 0 {
				return nil, errors.New("stages is required")
			}

			var output string
			for i, raw := range rawStages {
				stage, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("stage %d is malformed", i+1)
				}
				agentID, _ := stage["agent"].(string)
				task, _ := stage["task"].(string)
				if agentID == "" || task == "" {
					return nil, fmt.Errorf("stage %d needs agent and task", i+1)
				}

				prompt := task
				if output != "" {
					prompt = fmt.Sprintf("%s\n\nInput from previous stage:\n%s", task, output)
				}
				text, err := dispatchText(ctx, reg, callerID, agentID, delegationPrompt(callerID, prompt, ""), 0)
				if err != nil {
					return nil, fmt.Errorf("stage %d (%s): %w", i+1, agentID, err)
				}
				output = text
			}
			return output, nil
		},
	}
}

func supervisorTool(reg *Registry, callerID string) *tools.Entry {
	return &tools.Entry{
		Definition: models.ToolDefinition{
			Name:        "supervisor",
			Description: "Hand a goal to a supervisor agent that delegates among a set of worker agents.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"supervisor_agent": {"type": "string", "description": "Agent acting as supervisor"},
					"task": {"type": "string", "description": "Overall goal"},
					"workers": {"type": "array", "items": {"type": "string"}, "description": "Worker agents available to the supervisor"}
				},
				"required": ["supervisor_agent", "task", "workers"]
			}`),
			Annotations: models.ToolAnnotations{RiskLevel: models.RiskYellow},
		},
		Source: models.SourceOrchestration,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			supervisor, _ := args["supervisor_agent"].(string)
			task, _ := args["task"].(string)
			rawWorkers, _ := args["workers"].([]any)
			if supervisor == "" || task == "" || len(rawWorkers) == 0 {
				return nil, errors.New("supervisor_agent, task, and workers are required")
			}

			workers := make([]string, 0, len(rawWorkers))
			for _, raw := range rawWorkers {
				if id, ok := raw.(string); ok && id != "" {
					workers = append(workers, id)
				}
			}

			context := fmt.Sprintf(
				"You are supervising these worker agents: %s. Use agent_spawn to delegate subtasks and combine their results.",
				strings.Join(workers, ", "))
			return dispatchText(ctx, reg, callerID, supervisor, delegationPrompt(callerID, task, context), 0)
		},
	}
}
