package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/HexSleeves/parley/internal/config"
	"github.com/HexSleeves/parley/internal/output"
	"github.com/HexSleeves/parley/internal/state"
)

// stdout is where command output goes; tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dir := cmd.String("state-dir"); dir != "" {
		cfg.StateDir = dir
	}
	if p := cmd.String("provider"); p != "" {
		cfg.Provider.Name = p
	}
	if m := cmd.String("model"); m != "" {
		cfg.Provider.Model = m
	}
	cfg.Output.JSON = cfg.Output.JSON || cmd.Bool("json")
	cfg.Output.Quiet = cfg.Output.Quiet || cmd.Bool("quiet")
	cfg.Output.Plain = cfg.Output.Plain || cmd.Bool("plain")
	return cfg, nil
}

func stdoutIsTerminal() bool {
	f, ok := stdout.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// outputMode resolves the mode for one command. wantTUI is set by commands
// that have an interactive view.
func outputMode(cfg *config.Config, wantTUI bool) output.Mode {
	return output.ModeFor(cfg.IsJSON(), cfg.IsQuiet(), cfg.IsPlain(), wantTUI, stdoutIsTerminal())
}

func newPrinter(cmd *cli.Command, mode output.Mode) *output.Printer {
	return output.NewPrinterWithWriter(mode, cmd.Bool("verbose"), stdout)
}

func newLogger(cmd *cli.Command, mode output.Mode) *log.Logger {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	if cmd.Bool("verbose") {
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}
	if mode == output.ModeQuiet {
		logger.SetOutput(io.Discard)
	}
	return logger
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdInit(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if dir := cmd.String("state-dir"); dir != "" {
		cfg.StateDir = dir
	}
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	p := newPrinter(cmd, output.ModePlain)
	p.Success("Config saved to %s", path)
	p.Info("Sessions will be stored in %s", cfg.StatePath(state.FileName))
	return nil
}

func cmdConfig(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Provider.APIKey != "" {
		cfg.Provider.APIKey = maskKey(cfg.Provider.APIKey)
	}
	if cfg.IsJSON() {
		return writeJSON(cfg)
	}

	p := newPrinter(cmd, outputMode(cfg, false))
	p.Header(fmt.Sprintf("Configuration (%s)", cmd.String("config")))
	p.KeyValue([][]string{
		{"State Dir", cfg.StateDir},
		{"Provider", cfg.Provider.Name},
		{"Model", cfg.Provider.Model},
		{"Max Tokens", fmt.Sprint(cfg.Provider.MaxTokens)},
		{"Timeout", cfg.Provider.Timeout.String()},
		{"Max Turns", fmt.Sprint(cfg.Agent.MaxTurns)},
		{"Max Retries", fmt.Sprint(cfg.Agent.MaxRetries)},
		{"Compact After", fmt.Sprint(cfg.Agent.CompactAfter)},
		{"Repair History", fmt.Sprint(cfg.Agent.RepairHistory)},
		{"Strict", fmt.Sprint(cfg.Agent.Strict)},
		{"Shell", fmt.Sprint(cfg.Tools.EnableShell)},
		{"Read Only", fmt.Sprint(cfg.Tools.ReadOnly)},
		{"Allowed Paths", strings.Join(cfg.Tools.AllowedPaths, ", ")},
	})
	if len(cfg.MCPServers) > 0 {
		p.Section("MCP Servers")
		var items []output.BulletItem
		for _, name := range sortedKeys(cfg.MCPServers) {
			items = append(items, output.BulletItem{Icon: "•", Text: name + ": " + cfg.MCPServers[name]})
		}
		p.BulletList(items)
	}
	if err := cfg.Validate(); err != nil {
		p.Warning("%v", err)
	}
	return nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
