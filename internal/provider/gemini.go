package provider

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/untoldecay/space/internal/trace"
	"github.com/untoldecay/space/internal/types"
)

// gemini drives the Gemini CLI with a JSON event stream.
type gemini struct{}

func newGemini() *gemini { return &gemini{} }

func (g *gemini) Name() string { return types.ProviderGemini }

var geminiTools = map[string]string{
	CapShell:  "run_shell_command",
	CapRead:   "read_file",
	CapWrite:  "write_file",
	CapEdit:   "replace",
	CapLS:     "list_directory",
	CapGlob:   "glob",
	CapGrep:   "search_file_content",
	CapFetch:  "web_fetch",
	CapSearch: "google_web_search",
}

func (g *gemini) BuildCommand(req CommandRequest) (Command, error) {
	caps := req.AllowedTools
	if caps == nil {
		caps = DefaultCapabilities()
	}
	allowed := translateTools(geminiTools, caps)

	argv := []string{"gemini", "--output-format", "stream-json"}
	if req.Model != "" {
		argv = append(argv, "--model", req.Model)
	}
	if req.SessionID != "" {
		argv = append(argv, "--resume", req.SessionID)
	}
	if len(allowed) > 0 {
		argv = append(argv, "--allowed-tools", strings.Join(allowed, ","))
	}
	argv = append(argv, "--prompt", req.Context)
	return Command{Argv: argv}, nil
}

type geminiLine struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args"`
	Output    string         `json:"output"`
	Error     bool           `json:"error"`
	Model     string         `json:"model"`

	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	CachedTokens int64 `json:"cached_tokens"`
}

func (g *gemini) NormalizeEvent(raw []byte, agent string, tools ToolMap) []trace.Event {
	if ev, ok := passthrough(raw); ok {
		return []trace.Event{ev}
	}

	var line geminiLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil
	}
	now := time.Now().UTC()

	switch line.Type {
	case "message":
		if line.Role != "assistant" || line.Content == "" {
			return nil
		}
		return []trace.Event{{
			Type: trace.EventText, Agent: agent, Text: line.Content, Timestamp: now,
		}}

	case "tool_use":
		tools[line.ID] = line.Name
		return []trace.Event{{
			Type: trace.EventToolCall, Agent: agent,
			ToolName: line.Name, ToolUseID: line.ID, Input: line.Args,
			Timestamp: now,
		}}

	case "tool_output":
		return []trace.Event{{
			Type: trace.EventToolResult, Agent: agent,
			ToolName: tools[line.ID], ToolUseID: line.ID,
			Output: line.Output, IsError: line.Error,
			Timestamp: now,
		}}

	case "stats":
		u := trace.Usage{
			InputTokens:  line.InputTokens,
			OutputTokens: line.OutputTokens,
			CacheRead:    line.CachedTokens,
			Model:        line.Model,
		}
		return []trace.Event{{
			Type: trace.EventUsage, Agent: agent, Usage: &u, Timestamp: now,
		}}
	}
	return nil
}

func (g *gemini) SessionCapture(raw []byte) (string, bool) {
	var line geminiLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return "", false
	}
	if line.Type == "init" && line.SessionID != "" {
		return line.SessionID, true
	}
	return "", false
}

func (g *gemini) ParseUsage(tracePath string) (trace.Usage, error) {
	return sumUsage(tracePath, func(raw []byte, total *trace.Usage) {
		var line geminiLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return
		}
		if line.Type != "stats" {
			return
		}
		total.Add(trace.Usage{
			InputTokens:  line.InputTokens,
			OutputTokens: line.OutputTokens,
			CacheRead:    line.CachedTokens,
			Model:        line.Model,
		})
	})
}

func (g *gemini) InputTokensFromEvent(raw []byte) int64 {
	var line geminiLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return 0
	}
	if line.Type != "stats" {
		return 0
	}
	return line.InputTokens + line.CachedTokens
}
