package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/HexSleeves/parley/internal/output"
	"github.com/HexSleeves/parley/internal/pricing"
	"github.com/HexSleeves/parley/internal/state"
	"github.com/HexSleeves/parley/internal/turns"
)

func openState(cmd *cli.Command) (*state.DB, output.Mode, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, 0, err
	}
	db, err := state.Open(cfg.StateDir)
	if err != nil {
		return nil, 0, fmt.Errorf("open database: %w", err)
	}
	return db, outputMode(cfg, false), nil
}

func cmdSessions(ctx context.Context, cmd *cli.Command) error {
	db, mode, err := openState(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	p := newPrinter(cmd, mode)

	if id := cmd.String("rm"); id != "" {
		if err := db.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("remove session %s: %w", id, err)
		}
		p.Success("Removed session %s", id)
		return nil
	}

	sessions, err := db.ListSessions(ctx, int(cmd.Int("limit")))
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if mode == output.ModeJSON {
		if sessions == nil {
			sessions = []state.Session{}
		}
		return writeJSON(sessions)
	}

	if len(sessions) == 0 {
		p.Info("No sessions found. Run 'parley chat <message>' to start one.")
		return nil
	}
	p.Header("Sessions")
	p.PrintSessions(sessions)
	p.Printf("\n%d session(s)\n", len(sessions))
	return nil
}

// sessionReport is the JSON form of `show`.
type sessionReport struct {
	Session    *state.Session         `json:"session"`
	Cost       state.Cost             `json:"cost"`
	Events     map[string]int         `json:"events"`
	Validation turns.ValidationResult `json:"validation"`
	History    turns.History          `json:"history"`
}

func cmdShow(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: parley show <session-id>")
	}
	id := cmd.Args().First()

	db, mode, err := openState(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	sess, err := db.GetSession(ctx, id)
	if errors.Is(err, state.ErrSessionNotFound) {
		return fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return err
	}
	h, err := db.LoadHistory(ctx, id)
	if err != nil {
		return err
	}
	cost, err := db.SessionCost(ctx, id)
	if err != nil {
		return err
	}
	events, err := db.EventCounts(ctx, id)
	if err != nil {
		return err
	}
	res := turns.Validate(h)

	if mode == output.ModeJSON {
		return writeJSON(sessionReport{Session: sess, Cost: cost, Events: events, Validation: res, History: h})
	}

	p := newPrinter(cmd, mode)
	p.Header("Session " + sess.ID)
	p.KeyValue([][]string{
		{"Title", sess.Title},
		{"Status", output.StatusIcon(sess.Status) + " " + sess.Status},
		{"Provider", sess.Provider},
		{"Model", sess.Model},
		{"Created", sess.CreatedAt},
		{"Updated", sess.UpdatedAt},
	})
	p.Section("Transcript")
	p.PrintHistory(h, res.Violations)
	if !res.IsValid {
		p.PrintValidation(id, h, res)
	}

	p.Section("Cost")
	p.KeyValue([][]string{
		{"LLM calls", fmt.Sprint(cost.Calls)},
		{"Input tokens", fmt.Sprint(cost.InputTokens)},
		{"Output tokens", fmt.Sprint(cost.OutputTokens)},
		{"Total", pricing.FormatUSD(cost.USD)},
	})
	if len(events) > 0 {
		p.Section("Events")
		rows := make([][]string, 0, len(events))
		for _, t := range sortedKeys(events) {
			rows = append(rows, []string{t, fmt.Sprint(events[t])})
		}
		p.Table([]string{"Event", "Count"}, rows)
	}
	return nil
}

func cmdPricing(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	table := cfg.PriceTable()
	mode := outputMode(cfg, false)
	if mode == output.ModeJSON {
		return writeJSON(table)
	}
	p := newPrinter(cmd, mode)
	p.Header("Pricing")
	p.PrintPricing(table)
	return nil
}
