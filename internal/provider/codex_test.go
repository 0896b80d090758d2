package provider

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/untoldecay/space/internal/trace"
)

func TestCodexBuildCommand(t *testing.T) {
	c := newCodex()

	cmd, err := c.BuildCommand(CommandRequest{Model: "gpt-5-codex", Context: "wake up"})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if cmd.Argv[0] != "codex" || cmd.Argv[1] != "exec" {
		t.Errorf("argv = %v", cmd.Argv)
	}
	for _, want := range []string{"--json", "--skip-git-repo-check", "-m", "gpt-5-codex"} {
		if !slices.Contains(cmd.Argv, want) {
			t.Errorf("argv missing %q: %v", want, cmd.Argv)
		}
	}
	if cmd.Argv[len(cmd.Argv)-1] != "wake up" {
		t.Errorf("context should be the final argument: %v", cmd.Argv)
	}
	if slices.Contains(cmd.Argv, "resume") {
		t.Error("fresh launch must not resume")
	}

	cmd, err = c.BuildCommand(CommandRequest{Model: "gpt-5-codex", Context: "continue", SessionID: "sess-9"})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if cmd.Argv[1] != "exec" || cmd.Argv[2] != "resume" || cmd.Argv[3] != "sess-9" {
		t.Errorf("resume argv = %v", cmd.Argv)
	}
}

func TestCodexNormalize(t *testing.T) {
	c := newCodex()
	tools := ToolMap{}

	events := c.NormalizeEvent([]byte(`{"type":"item.started","item":{"id":"it1","item_type":"command_execution","command":"go test ./..."}}`), "kim", tools)
	if len(events) != 1 || events[0].Type != trace.EventToolCall {
		t.Fatalf("events = %+v", events)
	}
	if events[0].ToolName != "shell" || events[0].Input["command"] != "go test ./..." {
		t.Errorf("tool_call = %+v", events[0])
	}
	if tools["it1"] != "shell" {
		t.Errorf("tool map = %v", tools)
	}

	events = c.NormalizeEvent([]byte(`{"type":"item.completed","item":{"id":"it1","item_type":"command_execution","aggregated_output":"ok","exit_code":1}}`), "kim", tools)
	if len(events) != 1 || events[0].Type != trace.EventToolResult {
		t.Fatalf("events = %+v", events)
	}
	if events[0].ToolName != "shell" || events[0].Output != "ok" || !events[0].IsError {
		t.Errorf("tool_result = %+v", events[0])
	}

	events = c.NormalizeEvent([]byte(`{"type":"item.completed","item":{"id":"it2","item_type":"agent_message","text":"done"}}`), "kim", tools)
	if len(events) != 1 || events[0].Type != trace.EventText || events[0].Text != "done" {
		t.Errorf("text = %+v", events)
	}

	events = c.NormalizeEvent([]byte(`{"type":"turn.completed","model":"gpt-5-codex","usage":{"input_tokens":50,"cached_input_tokens":20,"output_tokens":9}}`), "kim", tools)
	if len(events) != 1 || events[0].Usage == nil {
		t.Fatalf("usage = %+v", events)
	}
	u := events[0].Usage
	if u.InputTokens != 50 || u.CacheRead != 20 || u.OutputTokens != 9 || u.Model != "gpt-5-codex" {
		t.Errorf("usage = %+v", u)
	}

	if events := c.NormalizeEvent([]byte(`{"type":"item.completed","item":{"id":"it3","item_type":"reasoning","text":"hmm"}}`), "kim", tools); len(events) != 0 {
		t.Errorf("reasoning items should be dropped, got %+v", events)
	}
}

func TestCodexSessionCapture(t *testing.T) {
	c := newCodex()
	id, ok := c.SessionCapture([]byte(`{"type":"session.created","session_id":"sess-7"}`))
	if !ok || id != "sess-7" {
		t.Errorf("capture = %q, %v", id, ok)
	}
	if _, ok := c.SessionCapture([]byte(`{"type":"turn.completed"}`)); ok {
		t.Error("non-session lines should not capture")
	}
}

func TestCodexParseUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	lines := strings.Join([]string{
		`{"type":"session.created","session_id":"s"}`,
		`{"type":"turn.completed","model":"gpt-5-codex","usage":{"input_tokens":100,"cached_input_tokens":40,"output_tokens":10}}`,
		`{"type":"turn.completed","model":"gpt-5-codex","usage":{"input_tokens":200,"cached_input_tokens":60,"output_tokens":30}}`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("failed to write trace: %v", err)
	}

	u, err := newCodex().ParseUsage(path)
	if err != nil {
		t.Fatalf("ParseUsage: %v", err)
	}
	if u.InputTokens != 300 || u.CacheRead != 100 || u.OutputTokens != 40 {
		t.Errorf("usage = %+v", u)
	}
	if u.Model != "gpt-5-codex" {
		t.Errorf("model = %q", u.Model)
	}
}
