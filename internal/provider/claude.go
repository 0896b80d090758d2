package provider

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/untoldecay/space/internal/trace"
	"github.com/untoldecay/space/internal/types"
)

// claude drives the Claude Code CLI in stream-json mode.
type claude struct{}

func newClaude() *claude { return &claude{} }

func (c *claude) Name() string { return types.ProviderClaude }

var claudeTools = map[string]string{
	CapShell:  "Bash",
	CapRead:   "Read",
	CapWrite:  "Write",
	CapEdit:   "Edit",
	CapLS:     "LS",
	CapGlob:   "Glob",
	CapGrep:   "Grep",
	CapFetch:  "WebFetch",
	CapSearch: "WebSearch",
}

// Notebook editing bypasses the plain-file audit trail.
var claudeDisallowed = []string{"NotebookEdit"}

func (c *claude) BuildCommand(req CommandRequest) (Command, error) {
	caps := req.AllowedTools
	if caps == nil {
		caps = DefaultCapabilities()
	}
	allowed := translateTools(claudeTools, caps)

	argv := []string{"claude", "--output-format", "stream-json", "--verbose"}
	if req.Model != "" {
		argv = append(argv, "--model", req.Model)
	}
	switch {
	case req.SessionID != "":
		argv = append(argv, "--resume", req.SessionID)
	case req.AssignSessionID != "":
		argv = append(argv, "--session-id", req.AssignSessionID)
	}
	if len(allowed) > 0 {
		argv = append(argv, "--allowedTools", strings.Join(allowed, ","))
	}
	argv = append(argv, "--disallowedTools", strings.Join(claudeDisallowed, ","))

	if len(req.Images) > 0 {
		stdin, err := claudeStdinMessage(req.Context, req.Images)
		if err != nil {
			return Command{}, err
		}
		argv = append(argv, "--input-format", "stream-json", "-p")
		return Command{Argv: argv, Stdin: stdin}, nil
	}
	argv = append(argv, "-p", req.Context)
	return Command{Argv: argv}, nil
}

// claudeStdinMessage frames the context and image attachments as one
// stream-json user message.
func claudeStdinMessage(context string, images []string) ([]byte, error) {
	content := []map[string]any{}
	if context != "" {
		content = append(content, map[string]any{"type": "text", "text": context})
	}
	for _, path := range images {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", path, err)
		}
		content = append(content, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": imageMediaType(path),
				"data":       base64.StdEncoding.EncodeToString(data),
			},
		})
	}
	msg := map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": content},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stdin message: %w", err)
	}
	return append(raw, '\n'), nil
}

func imageMediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

type claudeUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

func (u *claudeUsage) canonical(model string) trace.Usage {
	return trace.Usage{
		InputTokens:   u.InputTokens,
		OutputTokens:  u.OutputTokens,
		CacheRead:     u.CacheReadInputTokens,
		CacheCreation: u.CacheCreationInputTokens,
		Model:         model,
	}
}

type claudeLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Message   struct {
		Model   string          `json:"model"`
		Content json.RawMessage `json:"content"`
		Usage   *claudeUsage    `json:"usage"`
	} `json:"message"`
	Usage *claudeUsage `json:"usage"`
}

type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

func claudeBlocks(raw json.RawMessage) []claudeBlock {
	if len(raw) == 0 {
		return nil
	}
	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks
	}
	// Older CLIs emit plain string content.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return []claudeBlock{{Type: "text", Text: s}}
	}
	return nil
}

// blockOutput flattens tool_result content, which arrives either as a
// string or as a list of text blocks.
func blockOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(p.Text)
		}
		return b.String()
	}
	return ""
}

func (c *claude) NormalizeEvent(raw []byte, agent string, tools ToolMap) []trace.Event {
	if ev, ok := passthrough(raw); ok {
		return []trace.Event{ev}
	}

	var line claudeLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil
	}
	now := time.Now().UTC()

	switch line.Type {
	case "assistant":
		var events []trace.Event
		for _, b := range claudeBlocks(line.Message.Content) {
			switch b.Type {
			case "text":
				if b.Text == "" {
					continue
				}
				events = append(events, trace.Event{
					Type: trace.EventText, Agent: agent, Text: b.Text, Timestamp: now,
				})
			case "tool_use":
				tools[b.ID] = b.Name
				events = append(events, trace.Event{
					Type: trace.EventToolCall, Agent: agent,
					ToolName: b.Name, ToolUseID: b.ID, Input: b.Input,
					Timestamp: now,
				})
			}
		}
		if line.Message.Usage != nil {
			u := line.Message.Usage.canonical(line.Message.Model)
			events = append(events, trace.Event{
				Type: trace.EventUsage, Agent: agent, Usage: &u, Timestamp: now,
			})
		}
		return events

	case "user":
		var events []trace.Event
		for _, b := range claudeBlocks(line.Message.Content) {
			if b.Type != "tool_result" {
				continue
			}
			events = append(events, trace.Event{
				Type: trace.EventToolResult, Agent: agent,
				ToolName: tools[b.ToolUseID], ToolUseID: b.ToolUseID,
				Output: blockOutput(b.Content), IsError: b.IsError,
				Timestamp: now,
			})
		}
		return events

	case "system":
		if line.Subtype == "init" {
			return nil
		}
		return []trace.Event{{
			Type: trace.EventStateChange, Agent: agent, Note: line.Subtype, Timestamp: now,
		}}

	case "result":
		if line.Usage == nil {
			return nil
		}
		u := line.Usage.canonical("")
		return []trace.Event{{
			Type: trace.EventUsage, Agent: agent, Usage: &u, Timestamp: now,
		}}
	}
	return nil
}

func (c *claude) SessionCapture(raw []byte) (string, bool) {
	var line claudeLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return "", false
	}
	if line.Type == "system" && line.Subtype == "init" && line.SessionID != "" {
		return line.SessionID, true
	}
	return "", false
}

func (c *claude) ParseUsage(tracePath string) (trace.Usage, error) {
	return sumUsage(tracePath, func(raw []byte, total *trace.Usage) {
		var line claudeLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return
		}
		if line.Message.Usage != nil {
			total.Add(line.Message.Usage.canonical(line.Message.Model))
		}
		if line.Usage != nil {
			total.Add(line.Usage.canonical(""))
		}
	})
}

func (c *claude) InputTokensFromEvent(raw []byte) int64 {
	var line claudeLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return 0
	}
	u := line.Message.Usage
	if u == nil {
		u = line.Usage
	}
	if u == nil {
		return 0
	}
	return u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
}

// sumUsage streams a trace file line by line, folding usage into a total.
// Undecodable lines are skipped, matching the tailer's tolerance.
func sumUsage(path string, fold func(raw []byte, total *trace.Usage)) (trace.Usage, error) {
	f, err := os.Open(path)
	if err != nil {
		return trace.Usage{}, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	var total trace.Usage
	r := bufio.NewReaderSize(f, 1<<20)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			fold(line, &total)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return trace.Usage{}, fmt.Errorf("failed to read trace file: %w", err)
		}
	}
	return total, nil
}
