package provider

import (
	"encoding/json"
	"time"

	"github.com/untoldecay/space/internal/trace"
	"github.com/untoldecay/space/internal/types"
)

// codex drives the Codex CLI in exec --json mode. Codex has no tool
// allow-list flags; sandboxing is its own concern.
type codex struct{}

func newCodex() *codex { return &codex{} }

func (c *codex) Name() string { return types.ProviderCodex }

func (c *codex) BuildCommand(req CommandRequest) (Command, error) {
	argv := []string{"codex", "exec"}
	if req.SessionID != "" {
		argv = append(argv, "resume", req.SessionID)
	}
	argv = append(argv, "--json", "--skip-git-repo-check")
	if req.Model != "" {
		argv = append(argv, "-m", req.Model)
	}
	for _, img := range req.Images {
		argv = append(argv, "-i", img)
	}
	argv = append(argv, req.Context)
	return Command{Argv: argv}, nil
}

type codexItem struct {
	ID               string `json:"id"`
	ItemType         string `json:"item_type"`
	Text             string `json:"text"`
	Command          string `json:"command"`
	AggregatedOutput string `json:"aggregated_output"`
	ExitCode         int    `json:"exit_code"`
}

type codexLine struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id"`
	Model     string     `json:"model"`
	Item      *codexItem `json:"item"`
	Usage     *struct {
		InputTokens       int64 `json:"input_tokens"`
		CachedInputTokens int64 `json:"cached_input_tokens"`
		OutputTokens      int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (c *codex) NormalizeEvent(raw []byte, agent string, tools ToolMap) []trace.Event {
	if ev, ok := passthrough(raw); ok {
		return []trace.Event{ev}
	}

	var line codexLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil
	}
	now := time.Now().UTC()

	switch line.Type {
	case "item.started":
		if line.Item == nil || line.Item.ItemType != "command_execution" {
			return nil
		}
		tools[line.Item.ID] = "shell"
		return []trace.Event{{
			Type: trace.EventToolCall, Agent: agent,
			ToolName: "shell", ToolUseID: line.Item.ID,
			Input:     map[string]any{"command": line.Item.Command},
			Timestamp: now,
		}}

	case "item.completed":
		if line.Item == nil {
			return nil
		}
		switch line.Item.ItemType {
		case "agent_message":
			if line.Item.Text == "" {
				return nil
			}
			return []trace.Event{{
				Type: trace.EventText, Agent: agent, Text: line.Item.Text, Timestamp: now,
			}}
		case "command_execution":
			return []trace.Event{{
				Type: trace.EventToolResult, Agent: agent,
				ToolName: tools[line.Item.ID], ToolUseID: line.Item.ID,
				Output:  line.Item.AggregatedOutput,
				IsError: line.Item.ExitCode != 0,

				Timestamp: now,
			}}
		}
		return nil

	case "turn.completed":
		if line.Usage == nil {
			return nil
		}
		u := trace.Usage{
			InputTokens:  line.Usage.InputTokens,
			OutputTokens: line.Usage.OutputTokens,
			CacheRead:    line.Usage.CachedInputTokens,
			Model:        line.Model,
		}
		return []trace.Event{{
			Type: trace.EventUsage, Agent: agent, Usage: &u, Timestamp: now,
		}}
	}
	return nil
}

func (c *codex) SessionCapture(raw []byte) (string, bool) {
	var line codexLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return "", false
	}
	if line.Type == "session.created" && line.SessionID != "" {
		return line.SessionID, true
	}
	return "", false
}

func (c *codex) ParseUsage(tracePath string) (trace.Usage, error) {
	return sumUsage(tracePath, func(raw []byte, total *trace.Usage) {
		var line codexLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return
		}
		if line.Type != "turn.completed" || line.Usage == nil {
			return
		}
		total.Add(trace.Usage{
			InputTokens:  line.Usage.InputTokens,
			OutputTokens: line.Usage.OutputTokens,
			CacheRead:    line.Usage.CachedInputTokens,
			Model:        line.Model,
		})
	})
}

func (c *codex) InputTokensFromEvent(raw []byte) int64 {
	var line codexLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return 0
	}
	if line.Usage == nil {
		return 0
	}
	return line.Usage.InputTokens + line.Usage.CachedInputTokens
}
