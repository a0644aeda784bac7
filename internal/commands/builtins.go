package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/nextlevelbuilder/luxbot/internal/dispatch"
)

func pingCommand(deps Deps) dispatch.Command {
	return dispatch.Command{
		Name:        "ping",
		Aliases:     []string{"p"},
		Description: "Check that the bot is alive",
		Handler: func(ctx context.Context, c *dispatch.Context) error {
			text := "🏓 Pong!"
			if ts := c.Msg.Timestamp; !ts.IsZero() {
				latency := deps.now().Sub(ts)
				if latency < 0 {
					latency = 0
				}
				text = fmt.Sprintf("🏓 Pong! %d ms", latency.Milliseconds())
			}
			return c.Reply(ctx, text)
		},
	}
}

func helpCommand() dispatch.Command {
	return dispatch.Command{
		Name:        "help",
		Aliases:     []string{"h", "commands"},
		Description: "List commands, or show one command's usage",
		Usage:       "help [command]",
		Handler: func(ctx context.Context, c *dispatch.Context) error {
			marker := c.Settings().Prefix.Marker()
			if len(c.Args) > 0 {
				cmd, ok := c.Registry().Resolve(c.Args[0])
				if !ok {
					return c.Reply(ctx, fmt.Sprintf(dispatch.MsgUnknownCommand, strings.ToLower(c.Args[0])))
				}
				return c.Reply(ctx, describe(marker, cmd))
			}

			var sb strings.Builder
			sb.WriteString("*Commands*\n")
			for _, cmd := range c.Registry().Commands() {
				if cmd.OwnerOnly && !c.IsOwner {
					continue
				}
				fmt.Fprintf(&sb, "\n%s%s", marker, cmd.Name)
				if cmd.Description != "" {
					sb.WriteString(" - " + cmd.Description)
				}
			}
			return c.Reply(ctx, sb.String())
		},
	}
}

func describe(marker string, cmd *dispatch.Command) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s%s*", marker, cmd.Name)
	if cmd.Description != "" {
		sb.WriteString("\n" + cmd.Description)
	}
	if cmd.Usage != "" {
		fmt.Fprintf(&sb, "\nUsage: %s%s", marker, cmd.Usage)
	}
	if len(cmd.Aliases) > 0 {
		sb.WriteString("\nAliases: " + strings.Join(cmd.Aliases, ", "))
	}
	var flags []string
	if cmd.OwnerOnly {
		flags = append(flags, "owner only")
	}
	if cmd.GroupOnly {
		flags = append(flags, "groups only")
	}
	if len(flags) > 0 {
		sb.WriteString("\n(" + strings.Join(flags, ", ") + ")")
	}
	return sb.String()
}

func echoCommand() dispatch.Command {
	return dispatch.Command{
		Name:        "echo",
		Description: "Toggle echoing of plain messages in this chat",
		Usage:       "echo on|off|status",
		Handler: func(ctx context.Context, c *dispatch.Context) error {
			flags := c.ChatFlags()
			chat := c.Msg.Chat
			mode := "status"
			if len(c.Args) > 0 {
				mode = strings.ToLower(c.Args[0])
			}
			switch mode {
			case "on":
				flags.SetEcho(chat, true)
				if c.Settings().Fallback != dispatch.FallbackEcho {
					return c.Reply(ctx, "Echo enabled for this chat, but echo fallback is off in the bot config.")
				}
				return c.Reply(ctx, "🔁 Echo enabled for this chat.")
			case "off":
				flags.SetEcho(chat, false)
				return c.Reply(ctx, "Echo disabled for this chat.")
			case "status":
				state := "off"
				if flags.Echo(chat) {
					state = "on"
				}
				return c.Reply(ctx, "Echo is "+state+" for this chat.")
			}
			return c.Reply(ctx, "Usage: "+c.Settings().Prefix.Marker()+"echo on|off|status")
		},
	}
}

func statusCommand(deps Deps) dispatch.Command {
	return dispatch.Command{
		Name:        "status",
		Aliases:     []string{"uptime"},
		Description: "Show connection state and uptime",
		Handler: func(ctx context.Context, c *dispatch.Context) error {
			phase := "unknown"
			if deps.Status != nil {
				phase = deps.Status()
			}
			uptime := "n/a"
			if !deps.Started.IsZero() {
				uptime = deps.now().Sub(deps.Started).Truncate(time.Second).String()
			}
			return c.Reply(ctx, fmt.Sprintf("*Status*\nConnection: %s\nUptime: %s\nCommands: %d",
				phase, uptime, len(c.Registry().Commands())))
		},
	}
}

func sayCommand() dispatch.Command {
	return dispatch.Command{
		Name:        "say",
		Description: "Repeat the given words, honoring quotes",
		Usage:       `say "some words" more`,
		Handler: func(ctx context.Context, c *dispatch.Context) error {
			words, err := shellwords.Parse(c.RawArgs)
			if err != nil {
				return c.Reply(ctx, "Unbalanced quotes.")
			}
			if len(words) == 0 {
				return c.Reply(ctx, "Usage: "+c.Settings().Prefix.Marker()+`say "some words"`)
			}
			return c.Reply(ctx, strings.Join(words, "\n"))
		},
	}
}
