// Package validation runs the pre-build checks (typecheck, lint, prebuild,
// bundle) against a project checkout and turns tool output into structured
// diagnostics.
package validation

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kballard/go-shellquote"

	"git.home.luguber.info/inful/shipwright/internal/config"
	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/metrics"
)

// Pipeline runs configured stage commands through a CommandRunner.
type Pipeline struct {
	runner      CommandRunner
	commands    map[string][]string
	timeout     time.Duration
	outputLimit int
	runtime     *config.Runtime
	recorder    metrics.Recorder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRunner replaces the os/exec runner.
func WithRunner(r CommandRunner) Option {
	return func(p *Pipeline) { p.runner = r }
}

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pipeline) { p.recorder = metrics.OrNoop(r) }
}

// New builds a pipeline from the validation config. runtime supplies the
// hot-reloadable bypass flag and default tier; nil means static cfg values.
func New(cfg config.ValidationConfig, runtime *config.Runtime, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		runner:      ExecRunner{},
		commands:    make(map[string][]string, len(stageOrder)),
		timeout:     cfg.Timeout,
		outputLimit: cfg.OutputLimit,
		runtime:     runtime,
		recorder:    metrics.NoopRecorder{},
	}
	if p.runtime == nil {
		p.runtime = config.NewRuntime(&config.Config{Validation: cfg}, nil)
	}
	if p.outputLimit <= 0 {
		p.outputLimit = 500
	}
	for _, stage := range stageOrder {
		line, ok := cfg.Commands[stage]
		if !ok {
			line = config.DefaultStageCommands[stage]
		}
		argv, err := shellquote.Split(line)
		if err != nil {
			return nil, foundationerrors.ConfigError("invalid validation command").
				WithCause(err).
				WithContext("stage", stage).
				Build()
		}
		if len(argv) == 0 {
			return nil, foundationerrors.ConfigError("empty validation command").
				WithContext("stage", stage).
				Build()
		}
		p.commands[stage] = argv
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Validate runs the pipeline unless bypass is enabled. An empty tier uses
// the configured default.
func (p *Pipeline) Validate(ctx context.Context, projectPath, tier string) (*Result, error) {
	if tier == "" {
		tier = p.runtime.ValidationTier()
	}
	if tier == "" {
		tier = config.TierFull
	}
	if p.runtime.ValidationBypass() {
		slog.Warn("Validation bypassed", "project_path", projectPath, "tier", tier)
		return &Result{Tier: tier, Passed: true, Bypassed: true}, nil
	}
	return p.RunTier(ctx, projectPath, tier)
}

// RunTier runs every stage of tier in order. All stages run even after a
// failure so the caller sees every problem at once. The error is non-nil only
// when ctx ends.
func (p *Pipeline) RunTier(ctx context.Context, projectPath, tier string) (*Result, error) {
	if !config.IsValidTier(tier) {
		return nil, foundationerrors.ValidationError("unknown validation tier").
			WithContext("tier", tier).
			Build()
	}
	res := &Result{Tier: tier, Passed: true}
	for _, stage := range TierStages(tier) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sr := p.runStage(ctx, projectPath, stage)
		res.Stages = append(res.Stages, sr)
		if !sr.Passed {
			res.Passed = false
		}
		for _, d := range sr.Diagnostics {
			if d.Severity == SeverityError {
				res.Errors = append(res.Errors, d)
			}
		}
	}
	slog.Info("Validation finished",
		"project_path", projectPath,
		"tier", tier,
		"passed", res.Passed,
		"errors", len(res.Errors))
	return res, nil
}

func (p *Pipeline) runStage(ctx context.Context, dir, stage string) StageResult {
	argv := p.commands[stage]
	stageCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	out, code, err := p.runner.Run(stageCtx, dir, argv[0], argv[1:])
	sr := StageResult{Name: stage, ExitCode: code, Duration: time.Since(start)}
	p.recorder.ObserveStageDuration(stage, sr.Duration)

	switch {
	case stdErrors.Is(err, ErrToolNotFound):
		sr.Diagnostics = []Diagnostic{{
			Message:  fmt.Sprintf("%s: command %q not found", stage, argv[0]),
			Severity: SeverityError,
			Stage:    stage,
		}}
	case err != nil:
		sr.Diagnostics = []Diagnostic{{
			Message:  fmt.Sprintf("%s: %v", stage, err),
			Severity: SeverityError,
			Stage:    stage,
		}}
	default:
		sr.Passed = code == 0
		sr.Diagnostics = parserFor(argv)(string(out), stage)
		if sr.Passed {
			// The exit code decides; matches in a passing tool's output are advisory.
			for i := range sr.Diagnostics {
				sr.Diagnostics[i].Severity = SeverityWarning
			}
		} else if !hasErrors(sr.Diagnostics) {
			sr.Diagnostics = append(sr.Diagnostics, fallback(string(out), stage, p.outputLimit))
		}
	}

	result := metrics.ResultSuccess
	if !sr.Passed {
		result = metrics.ResultFailed
		slog.Warn("Validation stage failed",
			logfields.Stage(stage),
			slog.Int("exit_code", code),
			slog.Int("diagnostics", len(sr.Diagnostics)),
			logfields.Error(err))
	}
	p.recorder.IncStageResult(stage, result)
	return sr
}

func hasErrors(ds []Diagnostic) bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
