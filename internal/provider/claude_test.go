package provider

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/untoldecay/space/internal/trace"
)

func TestClaudeBuildCommandFresh(t *testing.T) {
	c := newClaude()
	cmd, err := c.BuildCommand(CommandRequest{
		Model:           "claude-sonnet-4-5",
		Context:         "wake up",
		AssignSessionID: "11111111-2222-3333-4444-555555555555",
	})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}

	argv := cmd.Argv
	if argv[0] != "claude" {
		t.Errorf("argv[0] = %q", argv[0])
	}
	for _, want := range []string{"--output-format", "stream-json", "--verbose", "--model", "claude-sonnet-4-5", "--session-id"} {
		if !slices.Contains(argv, want) {
			t.Errorf("argv missing %q: %v", want, argv)
		}
	}
	if slices.Contains(argv, "--resume") {
		t.Error("fresh launch must not resume")
	}
	if argv[len(argv)-2] != "-p" || argv[len(argv)-1] != "wake up" {
		t.Errorf("argv should end with -p <context>: %v", argv)
	}

	i := slices.Index(argv, "--allowedTools")
	if i < 0 || i+1 >= len(argv) {
		t.Fatalf("argv missing --allowedTools: %v", argv)
	}
	allowed := argv[i+1]
	for _, name := range []string{"Bash", "Read", "WebSearch"} {
		if !strings.Contains(allowed, name) {
			t.Errorf("allowed tools %q missing %s", allowed, name)
		}
	}
	j := slices.Index(argv, "--disallowedTools")
	if j < 0 || argv[j+1] != "NotebookEdit" {
		t.Errorf("argv should disallow NotebookEdit: %v", argv)
	}
	if cmd.Stdin != nil {
		t.Error("no stdin expected without images")
	}
}

func TestClaudeBuildCommandResume(t *testing.T) {
	c := newClaude()
	cmd, err := c.BuildCommand(CommandRequest{
		Model:     "claude-sonnet-4-5",
		Context:   "continue",
		SessionID: "sess-42",
	})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}

	i := slices.Index(cmd.Argv, "--resume")
	if i < 0 || cmd.Argv[i+1] != "sess-42" {
		t.Errorf("argv missing --resume sess-42: %v", cmd.Argv)
	}
	if slices.Contains(cmd.Argv, "--session-id") {
		t.Error("resume must not pre-assign a session id")
	}
}

func TestClaudeBuildCommandWithImages(t *testing.T) {
	img := filepath.Join(t.TempDir(), "shot.png")
	if err := os.WriteFile(img, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}

	c := newClaude()
	cmd, err := c.BuildCommand(CommandRequest{
		Model:   "claude-sonnet-4-5",
		Context: "look at this",
		Images:  []string{img},
	})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if !slices.Contains(cmd.Argv, "--input-format") {
		t.Errorf("argv should switch to stream-json input: %v", cmd.Argv)
	}
	if cmd.Argv[len(cmd.Argv)-1] != "-p" {
		t.Errorf("argv should end with bare -p when reading stdin: %v", cmd.Argv)
	}
	if cmd.Stdin == nil {
		t.Fatal("stdin message expected with images")
	}

	var msg struct {
		Type    string `json:"type"`
		Message struct {
			Content []struct {
				Type   string `json:"type"`
				Text   string `json:"text"`
				Source struct {
					MediaType string `json:"media_type"`
					Data      string `json:"data"`
				} `json:"source"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(cmd.Stdin, &msg); err != nil {
		t.Fatalf("stdin is not valid JSON: %v", err)
	}
	if msg.Type != "user" || len(msg.Message.Content) != 2 {
		t.Fatalf("stdin message = %+v", msg)
	}
	if msg.Message.Content[0].Text != "look at this" {
		t.Errorf("text block = %q", msg.Message.Content[0].Text)
	}
	if msg.Message.Content[1].Source.MediaType != "image/png" || msg.Message.Content[1].Source.Data == "" {
		t.Errorf("image block = %+v", msg.Message.Content[1])
	}

	if _, err := c.BuildCommand(CommandRequest{Images: []string{"/does/not/exist.png"}}); err == nil {
		t.Error("unreadable image should fail command construction")
	}
}

func TestClaudeNormalizeAssistant(t *testing.T) {
	c := newClaude()
	tools := ToolMap{}
	raw := []byte(`{"type":"assistant","message":{"model":"claude-sonnet-4-5","content":[` +
		`{"type":"text","text":"running ls"},` +
		`{"type":"tool_use","id":"tu1","name":"Bash","input":{"command":"ls"}}],` +
		`"usage":{"input_tokens":100,"output_tokens":20,"cache_read_input_tokens":50,"cache_creation_input_tokens":10}}}`)

	events := c.NormalizeEvent(raw, "ada", tools)
	if len(events) != 3 {
		t.Fatalf("got %d events, want text, tool_call, usage", len(events))
	}
	if events[0].Type != trace.EventText || events[0].Text != "running ls" || events[0].Agent != "ada" {
		t.Errorf("text event = %+v", events[0])
	}
	if events[1].Type != trace.EventToolCall || events[1].ToolName != "Bash" || events[1].ToolUseID != "tu1" {
		t.Errorf("tool_call event = %+v", events[1])
	}
	if events[1].Input["command"] != "ls" {
		t.Errorf("tool input = %v", events[1].Input)
	}
	if events[2].Type != trace.EventUsage || events[2].Usage == nil {
		t.Fatalf("usage event = %+v", events[2])
	}
	u := events[2].Usage
	if u.InputTokens != 100 || u.OutputTokens != 20 || u.CacheRead != 50 || u.CacheCreation != 10 {
		t.Errorf("usage = %+v", u)
	}
	if u.Model != "claude-sonnet-4-5" {
		t.Errorf("usage model = %q", u.Model)
	}
	if tools["tu1"] != "Bash" {
		t.Errorf("tool map = %v, tool_use should register its name", tools)
	}
}

func TestClaudeNormalizeToolResult(t *testing.T) {
	c := newClaude()
	tools := ToolMap{"tu1": "Bash"}

	raw := []byte(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu1","content":"file.txt","is_error":false}]}}`)
	events := c.NormalizeEvent(raw, "ada", tools)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != trace.EventToolResult || ev.ToolName != "Bash" || ev.Output != "file.txt" || ev.IsError {
		t.Errorf("tool_result = %+v", ev)
	}

	// Block-list content form.
	raw = []byte(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu1","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}],"is_error":true}]}}`)
	events = c.NormalizeEvent(raw, "ada", tools)
	if len(events) != 1 || events[0].Output != "ab" || !events[0].IsError {
		t.Errorf("block-list tool_result = %+v", events)
	}
}

func TestClaudeNormalizeSystemAndPassthrough(t *testing.T) {
	c := newClaude()
	tools := ToolMap{}

	if events := c.NormalizeEvent([]byte(`{"type":"system","subtype":"init","session_id":"s1"}`), "ada", tools); len(events) != 0 {
		t.Errorf("init line should emit nothing, got %+v", events)
	}

	events := c.NormalizeEvent([]byte(`{"type":"system","subtype":"compact_boundary"}`), "ada", tools)
	if len(events) != 1 || events[0].Type != trace.EventStateChange || events[0].Note != "compact_boundary" {
		t.Errorf("system subtype = %+v", events)
	}

	boundary := []byte(`{"type":"context_init","agent":"ada","context_case":"WAKE","ts":"2026-08-20T10:00:00Z"}`)
	events = c.NormalizeEvent(boundary, "ada", tools)
	if len(events) != 1 || events[0].Type != trace.EventContextInit || events[0].ContextCase != trace.ContextWake {
		t.Errorf("passthrough = %+v", events)
	}

	if events := c.NormalizeEvent([]byte("не json"), "ada", tools); events != nil {
		t.Errorf("garbage should normalize to nothing, got %+v", events)
	}
}

func TestClaudeSessionCapture(t *testing.T) {
	c := newClaude()

	id, ok := c.SessionCapture([]byte(`{"type":"system","subtype":"init","session_id":"sess-1"}`))
	if !ok || id != "sess-1" {
		t.Errorf("capture = %q, %v", id, ok)
	}
	if _, ok := c.SessionCapture([]byte(`{"type":"assistant","session_id":"sess-1"}`)); ok {
		t.Error("only the init line carries the authoritative session id")
	}
	if _, ok := c.SessionCapture([]byte(`broken`)); ok {
		t.Error("garbage should not capture")
	}
}

func TestClaudeParseUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	lines := strings.Join([]string{
		`{"type":"system","subtype":"init","session_id":"s1"}`,
		`{"type":"assistant","message":{"model":"claude-sonnet-4-5","content":[{"type":"text","text":"a"}],"usage":{"input_tokens":100,"output_tokens":10,"cache_read_input_tokens":5,"cache_creation_input_tokens":1}}}`,
		`not json at all`,
		`{"type":"assistant","message":{"model":"claude-sonnet-4-5","content":[{"type":"text","text":"b"}],"usage":{"input_tokens":200,"output_tokens":30,"cache_read_input_tokens":15,"cache_creation_input_tokens":2}}}`,
		`{"type":"result","subtype":"success","usage":{"input_tokens":0,"output_tokens":0}}`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("failed to write trace: %v", err)
	}

	u, err := newClaude().ParseUsage(path)
	if err != nil {
		t.Fatalf("ParseUsage: %v", err)
	}
	if u.InputTokens != 300 || u.OutputTokens != 40 || u.CacheRead != 20 || u.CacheCreation != 3 {
		t.Errorf("usage = %+v", u)
	}
	if u.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q", u.Model)
	}
}

func TestClaudeInputTokensFromEvent(t *testing.T) {
	c := newClaude()
	raw := []byte(`{"type":"assistant","message":{"usage":{"input_tokens":100,"cache_read_input_tokens":50,"cache_creation_input_tokens":10}}}`)
	if got := c.InputTokensFromEvent(raw); got != 160 {
		t.Errorf("input tokens = %d, want 160", got)
	}
	if got := c.InputTokensFromEvent([]byte(`{"type":"user"}`)); got != 0 {
		t.Errorf("input tokens = %d for event without usage", got)
	}
}
