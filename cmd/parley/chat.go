package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"

	"github.com/HexSleeves/parley/internal/agent"
	"github.com/HexSleeves/parley/internal/config"
	"github.com/HexSleeves/parley/internal/llm"
	"github.com/HexSleeves/parley/internal/mcp"
	"github.com/HexSleeves/parley/internal/output"
	"github.com/HexSleeves/parley/internal/pricing"
	"github.com/HexSleeves/parley/internal/safety"
	"github.com/HexSleeves/parley/internal/sanitize"
	"github.com/HexSleeves/parley/internal/state"
	"github.com/HexSleeves/parley/internal/telemetry"
	"github.com/HexSleeves/parley/internal/tools"
	"github.com/HexSleeves/parley/internal/turns"
)

const busHistory = 500

func cmdChat(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	mode := outputMode(cfg, false)
	logger := newLogger(cmd, mode)
	p := newPrinter(cmd, mode)

	root, err := os.Getwd()
	if err != nil {
		return err
	}
	client, err := llm.NewFromConfig(llm.ProviderConfig{
		Provider:  cfg.Provider.Name,
		Model:     cfg.Provider.Model,
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		WorkDir:   root,
		MaxTokens: cfg.Provider.MaxTokens,
		Timeout:   cfg.Provider.Timeout,
	})
	if err != nil {
		return fmt.Errorf("init provider: %w", err)
	}

	db, err := state.Open(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sessionID := cmd.String("session")
	if sessionID == "" {
		sessionID = agent.NewSessionID()
	}

	bus := telemetry.New(busHistory)
	rec := telemetry.NewRecorder(bus)
	bus.SubscribeAll(func(ev telemetry.Event) {
		if ev.SessionID == "" {
			return
		}
		if _, err := db.AppendEvent(context.WithoutCancel(ctx), ev.SessionID, string(ev.Type), ev.Payload); err != nil {
			logger.Printf("⚠ Warning: failed to record event: %v", err)
		}
	})
	if cmd.Bool("verbose") {
		bus.SubscribeAll(func(ev telemetry.Event) {
			logger.Printf("📦 %s (turn %d)", ev.Type, ev.Turn)
		})
	}

	reg := tools.NewRegistry()
	if !cmd.Bool("no-tools") {
		closeTools, err := setupTools(ctx, cfg, root, reg, logger)
		if err != nil {
			return err
		}
		defer closeTools()
	}

	sanitizer := sanitize.New()
	for _, pattern := range cfg.Agent.Redact {
		if sanitizer, err = sanitizer.WithPattern(pattern, "[redacted]"); err != nil {
			return fmt.Errorf("agent.redact: %w", err)
		}
	}

	tracker := pricing.NewTracker(cfg.PriceTable())
	a := agent.New(client, agent.OptionsFromConfig(cfg), logger).
		WithTools(reg).
		WithStore(db).
		WithBus(bus).
		WithTracker(tracker).
		WithSanitizer(sanitizer)

	var jw *output.JSONWriter
	switch mode {
	case output.ModeJSON:
		jw = output.NewJSONWriter(stdout, sessionID)
		if cfg.Output.MaxContent > 0 {
			jw.SetMaxOutput(cfg.Output.MaxContent)
		}
		a.OnMessage(func(m turns.Message) { _ = jw.WriteTurn(m) })
		toolEvent := func(ev telemetry.Event) {
			if tc, ok := ev.Payload.(telemetry.ToolCall); ok {
				_ = jw.WriteToolCall(tc.ID, tc.Name, tc.Duration, tc.Error)
			}
		}
		bus.Subscribe(telemetry.EventToolCall, toolEvent)
		bus.Subscribe(telemetry.EventToolError, toolEvent)
	case output.ModePlain:
		p.Header("Parley")
		p.KeyValue([][]string{
			{"Session", sessionID},
			{"Provider", cfg.Provider.Name},
			{"Model", cfg.Provider.Model},
			{"Tools", fmt.Sprint(reg.Len())},
		})
		a.OnMessage(func(m turns.Message) { p.PrintMessage(-1, m) })
		bus.Subscribe(telemetry.EventHistoryRepaired, func(ev telemetry.Event) {
			if hc, ok := ev.Payload.(telemetry.HistoryCheck); ok {
				p.Warning("🔧 Repaired stored history: inserted %d placeholder(s)", hc.Inserted)
			}
		})
		bus.Subscribe(telemetry.EventToolError, func(ev telemetry.Event) {
			if tc, ok := ev.Payload.(telemetry.ToolCall); ok {
				p.Warning("Tool %s failed: %s", tc.Name, tc.Error)
			}
		})
		bus.Subscribe(telemetry.EventToolCall, func(ev telemetry.Event) {
			if tc, ok := ev.Payload.(telemetry.ToolCall); ok {
				p.Debug("%s finished in %s", tc.Name, tc.Duration.Round(time.Millisecond))
			}
		})
		if stdoutIsTerminal() {
			// handlers run on the agent goroutine, so spin needs no lock
			var spin *output.SpinnerHandle
			bus.Subscribe(telemetry.EventLLMRequest, func(ev telemetry.Event) {
				spin = p.Spinner(fmt.Sprintf("Waiting for %s (turn %d)", cfg.Provider.Model, ev.Turn))
			})
			stop := func(telemetry.Event) {
				spin.Stop("")
				spin = nil
			}
			bus.Subscribe(telemetry.EventLLMResponse, stop)
			bus.Subscribe(telemetry.EventLLMError, stop)
		}
	}

	send := func(text string) (turns.History, error) {
		u := turns.User(text)
		p.PrintMessage(-1, u)
		if jw != nil {
			_ = jw.WriteTurn(u)
		}
		return a.Send(ctx, sessionID, text)
	}

	var (
		h      turns.History
		runErr error
	)
	message := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	switch {
	case message != "":
		h, runErr = send(message)
	case stdinIsTerminal() && mode == output.ModePlain:
		h, runErr = repl(ctx, p, send)
	default:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		message = strings.TrimSpace(string(data))
		if message == "" {
			return fmt.Errorf("usage: parley chat <message>")
		}
		h, runErr = send(message)
	}

	status := state.StatusDone
	if runErr != nil {
		status = state.StatusFailed
	}
	_, total := tracker.Total()

	switch mode {
	case output.ModeJSON:
		summary := output.SessionSummary{
			Status:   status,
			Turns:    rec.Snapshot().LLMCalls,
			Messages: len(h),
			CostUSD:  total,
			Models:   tracker.Breakdown(),
		}
		if runErr != nil {
			summary.Error = runErr.Error()
			_ = jw.WriteError(runErr.Error())
		}
		_ = jw.WriteSessionEnd(summary)
	case output.ModeQuiet:
		if last, ok := h.Last(); ok && runErr == nil && last.Role == turns.RoleAssistant {
			fmt.Fprintln(stdout, last.Content)
		}
	case output.ModePlain:
		p.Divider()
		p.PrintCosts(tracker.Breakdown())
		p.Info("Continue with: parley chat --session %s", sessionID)
	}
	return runErr
}

// repl reads one message per line until EOF or /exit. A failed turn is
// reported and the loop goes on; a cancelled context ends it.
func repl(ctx context.Context, p *output.Printer, send func(string) (turns.History, error)) (turns.History, error) {
	var h turns.History
	p.Info("Type a message, /exit to quit")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(stdout, pterm.Cyan("> "))
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return h, scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return h, nil
		}
		out, err := send(line)
		if out != nil {
			h = out
		}
		if err != nil {
			if ctx.Err() != nil {
				return h, err
			}
			p.Error("%v", err)
		}
	}
}

// setupTools registers the builtin tools and every reachable MCP server's
// tools. The returned func closes the MCP clients.
func setupTools(ctx context.Context, cfg *config.Config, root string, reg *tools.Registry, logger *log.Logger) (func(), error) {
	guard, err := safety.NewGuard(cfg.Tools, root)
	if err != nil {
		return nil, fmt.Errorf("init safety guard: %w", err)
	}
	if err := tools.RegisterBuiltins(reg, guard); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	var clients []*mcp.Client
	for _, name := range sortedKeys(cfg.MCPServers) {
		c := mcp.NewClient(name, cfg.MCPServers[name])
		names, err := mcp.RegisterTools(ctx, c, reg, name)
		if err != nil {
			logger.Printf("⚠ Warning: MCP server %s unavailable: %v", name, err)
			c.Close()
			continue
		}
		clients = append(clients, c)
		logger.Printf("✓ MCP server %s: %d tool(s)", name, len(names))
	}
	return func() {
		for _, c := range clients {
			c.Close()
		}
	}, nil
}
