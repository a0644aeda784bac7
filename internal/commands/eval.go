package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/nextlevelbuilder/luxbot/internal/dispatch"
)

const maxEvalOutput = 4000

func evalCommand(timeout time.Duration) dispatch.Command {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return dispatch.Command{
		Name:        "eval",
		Aliases:     []string{">"},
		Description: "Evaluate JavaScript",
		Usage:       "eval <expression>",
		OwnerOnly:   true,
		Handler: func(ctx context.Context, c *dispatch.Context) error {
			if c.RawArgs == "" {
				return c.Reply(ctx, "Usage: "+c.Settings().Prefix.Marker()+"eval <expression>")
			}
			out, err := Eval(ctx, c.RawArgs, timeout, map[string]any{
				"chat":   c.Msg.Chat,
				"sender": c.Msg.Sender,
				"args":   c.Args,
			})
			if err != nil {
				return c.Reply(ctx, "❌ "+err.Error())
			}
			return c.Reply(ctx, out)
		},
	}
}

// Eval runs src in a fresh goja runtime with globals set, interrupting it
// after timeout or when ctx ends. console.log output is prepended to the
// result.
func Eval(ctx context.Context, src string, timeout time.Duration, globals map[string]any) (string, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	var (
		mu   sync.Mutex
		logs []string
	)
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		mu.Lock()
		logs = append(logs, strings.Join(parts, " "))
		mu.Unlock()
		return goja.Undefined()
	})
	if err := vm.Set("console", console); err != nil {
		return "", err
	}
	for k, v := range globals {
		if err := vm.Set(k, v); err != nil {
			return "", err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt("execution timed out") })
	defer stop()

	v, err := vm.RunString(src)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return "", fmt.Errorf("timed out after %s", timeout)
		}
		return "", err
	}

	mu.Lock()
	out := strings.Join(logs, "\n")
	mu.Unlock()
	if res := formatValue(v); res != "" {
		if out != "" {
			out += "\n"
		}
		out += res
	}
	if out == "" {
		out = "undefined"
	}
	return truncateOutput(out, maxEvalOutput), nil
}

// truncateOutput cuts s to at most n bytes without splitting a rune.
func truncateOutput(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return ""
	}
	if goja.IsNull(v) {
		return "null"
	}
	switch exp := v.Export().(type) {
	case string:
		return exp
	case map[string]any, []any:
		b, err := json.MarshalIndent(exp, "", "  ")
		if err == nil {
			return string(b)
		}
	}
	return v.String()
}
