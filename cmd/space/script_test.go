package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

// scriptChildEnv flips the test binary into the real CLI: scripts
// re-exec it with this set and TestMain dispatches to main().
const scriptChildEnv = "SPACE_SCRIPT_CHILD"

func TestMain(m *testing.M) {
	if os.Getenv(scriptChildEnv) == "1" {
		main()
		return
	}
	os.Exit(m.Run())
}

func TestScripts(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	engine := &script.Engine{
		Cmds:  scripttest.DefaultCmds(),
		Conds: scripttest.DefaultConds(),
		Quiet: !testing.Verbose(),
	}
	engine.Cmds["space"] = script.Program(exe, os.Interrupt, 5*time.Second)

	files, err := filepath.Glob(filepath.Join("testdata", "*.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no scripts under testdata")
	}
	for _, file := range files {
		file := file
		name := strings.TrimSuffix(filepath.Base(file), ".txt")
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			work := t.TempDir()
			env := []string{
				"WORK=" + work,
				"HOME=" + work,
				"TMPDIR=" + work,
				"PATH=" + os.Getenv("PATH"),
				scriptChildEnv + "=1",
				"SPACE_DOT_SPACE=" + filepath.Join(work, ".space"),
				"NO_COLOR=1",
			}
			state, err := script.NewState(context.Background(), work, env)
			if err != nil {
				t.Fatal(err)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				t.Fatal(err)
			}
			scripttest.Run(t, engine, state, filepath.Base(file), bytes.NewReader(data))
		})
	}
}
