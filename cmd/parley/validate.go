package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/HexSleeves/parley/internal/history"
	"github.com/HexSleeves/parley/internal/output"
	"github.com/HexSleeves/parley/internal/tui"
	"github.com/HexSleeves/parley/internal/turns"
)

// errInvalidHistory makes the process exit 1 without printing anything more;
// the report has already been written.
var errInvalidHistory = errors.New("history is invalid")

func cmdValidate(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("usage: parley validate <file>...")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mode := outputMode(cfg, false)
	p := newPrinter(cmd, mode)
	jw := output.NewJSONWriter(stdout, "")

	invalid := 0
	for _, path := range paths {
		h, err := history.Read(path)
		if err != nil {
			return err
		}
		res := turns.Validate(h)
		if !res.IsValid {
			invalid++
		}
		if mode == output.ModeJSON {
			if err := jw.WriteValidation(path, h, res); err != nil {
				return err
			}
			continue
		}
		p.PrintValidation(path, h, res)
	}
	if invalid > 0 {
		return errInvalidHistory
	}
	return nil
}

func cmdFix(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: parley fix <file> [-o out]")
	}
	path := cmd.Args().First()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	h, err := history.Read(path)
	if err != nil {
		return err
	}
	fixed, before, after := turns.Prepare(h)
	inserted := len(fixed) - len(h)

	out := cmd.String("output")
	mode := outputMode(cfg, false)
	if out == "-" && mode == output.ModePlain {
		// the history itself is the output
		mode = output.ModeQuiet
	}
	switch {
	case out == "-" || (out == "" && mode == output.ModeQuiet):
		// quiet runs with nowhere else to go print the history itself
		if err := history.Encode(stdout, fixed, history.FormatJSON); err != nil {
			return err
		}
	case out != "":
		if err := history.Write(out, fixed); err != nil {
			return err
		}
	}

	switch mode {
	case output.ModeJSON:
		if err := output.NewJSONWriter(stdout, "").WriteRepair(fixed, before, after, inserted); err != nil {
			return err
		}
	case output.ModePlain:
		p := newPrinter(cmd, mode)
		if out == "" {
			p.PrintHistory(fixed, after.Violations)
		}
		p.PrintRepair(before, after, inserted)
		if out != "" {
			p.Success("Wrote %d messages to %s", len(fixed), out)
		}
	}

	if !after.IsValid {
		return errInvalidHistory
	}
	return nil
}

func cmdView(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: parley view <file>")
	}
	path := cmd.Args().First()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	h, err := history.Read(path)
	if err != nil {
		return err
	}
	res := turns.Validate(h)

	switch mode := outputMode(cfg, true); mode {
	case output.ModeTUI:
		return tui.Run(tui.NewViewer(h, res).WithTitle(path))
	case output.ModeJSON:
		jw := output.NewJSONWriter(stdout, "")
		for _, m := range h {
			if err := jw.WriteTurn(m); err != nil {
				return err
			}
		}
		return jw.WriteValidation(path, h, res)
	default:
		p := newPrinter(cmd, mode)
		p.Header(path)
		p.PrintHistory(h, res.Violations)
		p.PrintValidation(path, h, res)
	}
	return nil
}
