package trader

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type CommandDoc struct {
	Name        string
	Description string
	Example     string
}

var commandDocs = []CommandDoc{
	{"/ping", "Connectivity check", "/ping"},
	{"/status", "Scheduler status and last cycle", "/status"},
	{"/positions", "Live positions with unrealized P/L", "/positions"},
	{"/pause", "Stop opening new positions", "/pause"},
	{"/resume", "Allow new positions again", "/resume"},
	{"/halt", "Block automated entries for one symbol", "/halt <symbol>"},
	{"/unhalt", "Clear a halt", "/unhalt <symbol>"},
	{"/help", "This list", "/help"},
}

// HandleCommand processes inbound operator commands.
func (t *Trader) HandleCommand(cmd string) string {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch strings.ToLower(parts[0]) {
	case "/ping":
		return "Pong 🏓"
	case "/status":
		return t.getStatus()
	case "/positions":
		s, err := t.Summary(ctx)
		if err != nil {
			return fmt.Sprintf("⚠️ Could not load positions: %v", err)
		}
		return s
	case "/pause":
		t.SetPaused(true)
		return "⏸ New entries paused. Open positions are still managed."
	case "/resume":
		t.SetPaused(false)
		return "▶️ New entries resumed."
	case "/halt":
		if len(parts) < 2 {
			return "Usage: /halt <symbol>"
		}
		sym := strings.ToUpper(parts[1])
		if err := t.HaltSymbol(ctx, sym, "operator halt"); err != nil {
			return fmt.Sprintf("⚠️ Could not halt %s: %v", sym, err)
		}
		return fmt.Sprintf("🛑 %s halted. No automated entries until /unhalt %s.", sym, sym)
	case "/unhalt":
		if len(parts) < 2 {
			return "Usage: /unhalt <symbol>"
		}
		sym := strings.ToUpper(parts[1])
		ok, err := t.UnhaltSymbol(ctx, sym)
		if err != nil {
			return fmt.Sprintf("⚠️ Could not unhalt %s: %v", sym, err)
		}
		if !ok {
			return fmt.Sprintf("%s was not halted.", sym)
		}
		return fmt.Sprintf("✅ %s unhalted.", sym)
	case "/help":
		return t.getHelp()
	default:
		return "Unknown command. Try /status, /positions, /pause, /resume or /help."
	}
}

func (t *Trader) getStatus() string {
	last := t.LastCycle()
	mode := "ACTIVE"
	if t.Paused() {
		mode = "PAUSED"
	}

	var sb strings.Builder
	sb.WriteString("📊 *SPOT TRADER STATUS*\n")
	sb.WriteString(fmt.Sprintf("Mode: %s | Uptime: %s\n", mode, time.Since(t.startedAt).Round(time.Second)))
	sb.WriteString(fmt.Sprintf("Tracking: %d instruments | Interval: %s\n", len(t.Universe()), t.opts.Interval))
	if last.Cycle == 0 {
		sb.WriteString("No cycle completed yet.")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("Cycle %d at %s: %d evaluated, %d failed, took %s\n",
		last.Cycle, last.StartedAt.Format("15:04:05"), last.Evaluated, last.Failed, last.Duration.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("Live positions: %d/%d", last.Live, t.opts.MaxOpen))
	return sb.String()
}

func (t *Trader) getHelp() string {
	var sb strings.Builder
	sb.WriteString("*Commands*\n")
	for _, c := range commandDocs {
		sb.WriteString(fmt.Sprintf("%s - %s\n  `%s`\n", c.Name, c.Description, c.Example))
	}
	return sb.String()
}
