package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/shipwright/internal/config"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path (built-in defaults when empty)" env:"SHIPWRIGHT_CONFIG" type:"path"`
	Verbose   bool             `short:"v" help:"Enable debug logging"`
	LogFormat string           `help:"Log output format, overrides logging.format" placeholder:"text|json"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve       ServeCmd       `cmd:"" help:"Run the build and release orchestration service"`
	Validate    ValidateCmd    `cmd:"" help:"Run the pre-build validation pipeline against a project checkout"`
	CheckConfig CheckConfigCmd `cmd:"" name:"check-config" help:"Load, validate and print the effective configuration"`
	Info        InfoCmd        `cmd:"" help:"Print build information"`

	level  *slog.LevelVar
	stdout io.Writer
}

// AfterApply runs after flag parsing; it installs a text logger until the
// configuration is loaded.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	c.level = new(slog.LevelVar)
	if c.Verbose {
		c.level.Set(slog.LevelDebug)
	}
	c.installLogger(config.NormalizeLogFormat(c.LogFormat))
	return nil
}

// loadConfig loads the configuration and re-installs the logger according
// to its logging section. -v and --log-format take precedence.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	format := cfg.Logging.Format
	if c.LogFormat != "" {
		format = config.NormalizeLogFormat(c.LogFormat)
	}
	if c.Verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	c.levelVar().Set(cfg.Logging.Level.SlogLevel())
	c.installLogger(format)
	return cfg, nil
}

func (c *CLI) installLogger(format config.LogFormat) {
	opts := &slog.HandlerOptions{Level: c.levelVar()}
	var handler slog.Handler
	if format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func (c *CLI) levelVar() *slog.LevelVar {
	if c.level == nil {
		c.level = new(slog.LevelVar)
	}
	return c.level
}

func (c *CLI) out() io.Writer {
	if c.stdout == nil {
		return os.Stdout
	}
	return c.stdout
}
