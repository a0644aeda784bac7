// Package commands holds the built-in chat commands and builds registries
// from configuration.
package commands

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/nextlevelbuilder/luxbot/internal/config"
	"github.com/nextlevelbuilder/luxbot/internal/dispatch"
)

// StatusFunc reports the connection phase for the status command.
type StatusFunc func() string

// Deps are the runtime values built-in commands read.
type Deps struct {
	Started time.Time
	Status  StatusFunc
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Builtins returns every built-in command for cfg.
func Builtins(cfg config.CommandsConfig, deps Deps) []dispatch.Command {
	cmds := []dispatch.Command{
		pingCommand(deps),
		helpCommand(),
		echoCommand(),
		statusCommand(deps),
		sayCommand(),
	}
	if cfg.EvalEnabled {
		cmds = append(cmds, evalCommand(cfg.EvalTimeout.Std()))
	}
	return cmds
}

// Rebuild creates a fresh registry: built-ins plus extra, minus disabled
// commands, with configured aliases added.
func Rebuild(cfg config.CommandsConfig, deps Deps, extra ...dispatch.Command) (*dispatch.Registry, error) {
	reg := dispatch.NewRegistry()
	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, name := range cfg.Disabled {
		disabled[strings.ToLower(strings.TrimSpace(name))] = true
	}

	for _, c := range append(Builtins(cfg, deps), extra...) {
		name := strings.ToLower(c.Name)
		if disabled[name] {
			slog.Debug("command disabled by config", "command", name)
			continue
		}
		for key, aliases := range cfg.Aliases {
			if strings.EqualFold(key, name) {
				c.Aliases = append(slices.Clone(c.Aliases), aliases...)
			}
		}
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}
	slog.Info("command registry built", "commands", len(reg.Commands()))
	return reg, nil
}
