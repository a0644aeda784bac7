package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidCommand is returned by Register for a command without a name or handler.
var ErrInvalidCommand = errors.New("invalid command")

// HandlerFunc runs a command. Returned errors and panics are contained by
// the dispatcher and reported to the sender as a generic failure.
type HandlerFunc func(ctx context.Context, c *Context) error

// Command is a user-invokable command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	OwnerOnly   bool
	GroupOnly   bool
	Handler     HandlerFunc
}

// Registry maps names and aliases to commands. Later registrations for the
// same key replace earlier ones.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds cmd under its name and every alias.
func (r *Registry) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidCommand)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidCommand, name)
	}
	cmd.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	c := &cmd
	r.commands[name] = c
	for _, a := range cmd.Aliases {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			r.commands[a] = c
		}
	}
	return nil
}

// Resolve looks a command up by name or alias, ignoring case.
func (r *Registry) Resolve(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[strings.ToLower(name)]
	return c, ok
}

// Commands returns the distinct commands sorted by name.
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*Command]bool, len(r.commands))
	out := make([]*Command, 0, len(r.commands))
	for _, c := range r.commands {
		if seen[c] {
			continue
		}
		seen[c] = true
		// An alias may outlive its command after the name was re-registered.
		if cur := r.commands[c.Name]; cur != c {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of lookup keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}
