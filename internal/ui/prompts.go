package ui

import (
	"fmt"

	"github.com/charmbracelet/huh"
)

// PromptYesNo displays a yes/no question and returns the user's answer.
// Non-interactive runs (CI, pipes) get the default without blocking.
func PromptYesNo(question string, defaultYes bool) bool {
	if !IsTerminal() {
		fmt.Printf("%s (non-interactive, defaulting to %t)\n", question, defaultYes)
		return defaultYes
	}

	answer := defaultYes
	err := huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(&answer).
		Run()
	if err != nil {
		return defaultYes
	}
	return answer
}

// Prompt asks for a line of input with a default.
func Prompt(question, defaultValue string) string {
	if !IsTerminal() {
		fmt.Printf("%s (non-interactive, defaulting to %q)\n", question, defaultValue)
		return defaultValue
	}

	input := defaultValue
	err := huh.NewInput().
		Title(question).
		Placeholder(defaultValue).
		Value(&input).
		Run()
	if err != nil || input == "" {
		return defaultValue
	}
	return input
}
