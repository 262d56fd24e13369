package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/validation"
)

// ErrValidationFailed is returned when at least one stage fails.
var ErrValidationFailed = errors.New("validation failed")

// ValidateCmd implements the 'validate' command.
type ValidateCmd struct {
	Path string `arg:"" optional:"" help:"Project checkout to validate" default:"." type:"existingdir"`
	Tier string `short:"t" help:"Validation tier (fast, standard, full); defaults to validation.tier"`
	JSON bool   `help:"Print the result as JSON"`
}

func (v *ValidateCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tier := v.Tier
	if tier == "" {
		tier = cfg.Validation.Tier
	}

	p, err := validation.New(cfg.Validation, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// An explicit run ignores validation.bypass.
	res, err := p.RunTier(ctx, v.Path, tier)
	if err != nil {
		return err
	}
	if err := v.print(root, res); err != nil {
		return err
	}
	if !res.Passed {
		return ErrValidationFailed
	}
	return nil
}

func (v *ValidateCmd) print(root *CLI, res *validation.Result) error {
	out := root.out()
	if v.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for _, st := range res.Stages {
		mark := "ok"
		if !st.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(out, "%-10s %-4s exit=%d %s\n", st.Name, mark, st.ExitCode, st.Duration.Round(time.Millisecond))
	}
	for _, d := range res.Errors {
		switch {
		case d.File != "" && d.Line > 0:
			fmt.Fprintf(out, "  [%s] %s:%d:%d %s\n", d.Stage, d.File, d.Line, d.Column, d.Message)
		default:
			fmt.Fprintf(out, "  [%s] %s\n", d.Stage, d.Message)
		}
	}
	fmt.Fprintf(out, "tier=%s passed=%t\n", res.Tier, res.Passed)
	return nil
}
