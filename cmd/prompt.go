package cmd

import (
	"github.com/charmbracelet/huh"
)

// runWithHelp wraps a huh field in a Form with help hints visible at the bottom.
func runWithHelp(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptString prompts for a text input using huh TUI.
// If defaultVal is non-empty it is shown as placeholder; pressing Enter returns it.
// validate, when set, runs on every change and blocks submission on error.
func promptString(title, description, defaultVal string, validate func(string) error) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		Value(&value)

	if validate != nil {
		inp = inp.Validate(func(s string) error {
			if s == "" && defaultVal != "" {
				return nil
			}
			return validate(s)
		})
	}

	if description != "" {
		inp = inp.Description(description)
	}
	if defaultVal != "" {
		inp = inp.Placeholder(defaultVal)
	}

	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	if value == "" {
		return defaultVal, nil
	}
	return value, nil
}

// filterThreshold: enable type-to-filter only when there are more than this many options.
const filterThreshold = 5

// promptSelect shows a single-select list using huh TUI.
// Returns the value of the selected option.
func promptSelect[T comparable](title string, options []SelectOption[T], defaultIdx int) (T, error) {
	var value T

	huhOpts := make([]huh.Option[T], len(options))
	for i, opt := range options {
		huhOpts[i] = huh.NewOption(opt.Label, opt.Value)
	}
	if defaultIdx >= 0 && defaultIdx < len(options) {
		huhOpts[defaultIdx] = huhOpts[defaultIdx].Selected(true)
	}

	sel := huh.NewSelect[T]().
		Title(title).
		Options(huhOpts...).
		Value(&value)

	if len(options) > filterThreshold {
		sel = sel.Filtering(true)
	}

	if err := runWithHelp(sel); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// promptConfirm asks a yes/no question using huh TUI. Returns true for yes.
func promptConfirm(title string, defaultYes bool) (bool, error) {
	value := defaultYes

	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)

	if err := runWithHelp(c); err != nil {
		return false, err
	}
	return value, nil
}

// SelectOption represents a single option in a select prompt.
type SelectOption[T any] struct {
	Label string
	Value T
}
