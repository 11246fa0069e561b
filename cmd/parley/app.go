package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/HexSleeves/parley/internal/config"
)

// version is set via ldflags at build time by GoReleaser.
// e.g. -ldflags "-X main.version=1.2.3"
var version = "dev"

// newApp creates the CLI application with all flags and commands.
func newApp() *cli.Command {
	return &cli.Command{
		Name:        "parley",
		Usage:       "Validate, repair and run LLM conversations",
		Version:     version,
		UsageText:   "parley [global options] command [command options] [arguments...]",
		Description: "Parley checks conversation histories against the turn grammar, repairs them, and drives tool-using chats",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.FileName,
			},
			&cli.StringFlag{
				Name:  "state-dir",
				Usage: "Directory holding the session database",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "LLM provider: anthropic, openai, codex, gemini-api, claude-cli, kimi, ...",
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Model name",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Verbose logging",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Plain output (no TUI)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress all output (mutually exclusive with --json and --plain)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output newline-delimited JSON (mutually exclusive with --quiet and --plain)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			flagCount := 0
			for _, name := range []string{"quiet", "json", "plain"} {
				if cmd.Bool(name) {
					flagCount++
				}
			}
			if flagCount > 1 {
				return ctx, fmt.Errorf("flags --quiet, --json, and --plain are mutually exclusive")
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Check conversation histories against the turn grammar",
				ArgsUsage: "<file>...",
				Action:    cmdValidate,
			},
			{
				Name:      "fix",
				Usage:     "Insert placeholder turns so a history alternates correctly",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write the repaired history here (\"-\" for stdout)"},
				},
				Action: cmdFix,
			},
			{
				Name:      "view",
				Usage:     "Browse a history with its violations highlighted",
				ArgsUsage: "<file>",
				Action:    cmdView,
			},
			{
				Name:      "chat",
				Usage:     "Send a message and let the model use tools until it answers",
				ArgsUsage: "[message...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Continue this session instead of starting a new one"},
					&cli.BoolFlag{Name: "no-tools", Usage: "Do not offer any tools to the model"},
				},
				Action: cmdChat,
			},
			{
				Name:  "sessions",
				Usage: "List stored sessions",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum sessions to show"},
					&cli.StringFlag{Name: "rm", Usage: "Remove the session with this ID"},
				},
				Action: cmdSessions,
			},
			{
				Name:      "show",
				Usage:     "Print a stored session's transcript and cost",
				ArgsUsage: "<session-id>",
				Action:    cmdShow,
			},
			{
				Name:   "pricing",
				Usage:  "Show the model price table",
				Action: cmdPricing,
			},
			{
				Name:  "init",
				Usage: "Write a default config file",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Overwrite an existing config"},
				},
				Action: cmdInit,
			},
			{
				Name:   "config",
				Usage:  "Show current configuration",
				Action: cmdConfig,
			},
		},
	}
}
