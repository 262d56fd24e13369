package commands

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/shipwright/internal/version"
)

// CheckConfigCmd implements the 'check-config' command.
type CheckConfigCmd struct {
	ShowSecrets bool `help:"Print secrets instead of masking them"`
}

func (c *CheckConfigCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if !c.ShowSecrets {
		mask(&cfg.Provider.Token)
		mask(&cfg.Webhook.Secret)
		mask(&cfg.Storage.SigningKey)
		mask(&cfg.Server.AdminToken)
	}
	enc := yaml.NewEncoder(root.out())
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(cfg)
}

func mask(s *string) {
	if *s != "" {
		*s = "********"
	}
}

// InfoCmd implements the 'info' command.
type InfoCmd struct{}

func (InfoCmd) Run(_ *Global, root *CLI) error {
	_, err := fmt.Fprintln(root.out(), version.String())
	return err
}
