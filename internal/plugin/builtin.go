package plugin

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Builtins returns the compiled-in system commands.
func Builtins() Bundle {
	return Bundle{
		Commands: []*Command{
			{Name: "help", Description: "List available commands", Handler: helpCommand},
			{Name: "ping", Description: "Check that the bot is alive", Handler: pingCommand},
			{Name: "uptime", Description: "Show how long this bot has been running", Handler: uptimeCommand},
		},
	}
}

func helpCommand(ctx context.Context, pc *Context) error {
	var sb strings.Builder
	sb.WriteString("📖 Commands\n")
	for _, name := range pc.Commands.Names() {
		c := pc.Commands[name]
		sb.WriteString(fmt.Sprintf("%s%s", pc.Session.Prefix, name))
		if c.Description != "" {
			sb.WriteString(" - " + c.Description)
		}
		sb.WriteString(fmt.Sprintf(" (%s)\n", c.Source))
	}
	return pc.Reply(ctx, strings.TrimRight(sb.String(), "\n"))
}

func pingCommand(ctx context.Context, pc *Context) error {
	return pc.Reply(ctx, "pong 🏓")
}

func uptimeCommand(ctx context.Context, pc *Context) error {
	return pc.Reply(ctx, fmt.Sprintf("⏱ %s has been up for %s", pc.Session.DisplayName, FormatUptime(time.Since(pc.Session.StartedAt))))
}

// FormatUptime renders a duration as "Dd HHh MMm SSs".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%dd %02dh %02dm %02ds", days, hours, minutes, seconds)
}
