package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// RetryBackoffMode selects how the delay grows between attempts of an
// outbound provider or storage call.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var backoffModes = map[string]RetryBackoffMode{
	"fixed":       RetryBackoffFixed,
	"constant":    RetryBackoffFixed,
	"linear":      RetryBackoffLinear,
	"exponential": RetryBackoffExponential,
	"exp":         RetryBackoffExponential,
}

// NormalizeRetryBackoff maps case-insensitive input, including the aliases
// "constant" and "exp", to a mode. Unknown input yields "".
func NormalizeRetryBackoff(raw string) RetryBackoffMode {
	return backoffModes[strings.ToLower(strings.TrimSpace(raw))]
}

// Valid reports whether m is a known mode.
func (m RetryBackoffMode) Valid() bool {
	return m == RetryBackoffFixed || m == RetryBackoffLinear || m == RetryBackoffExponential
}

// UnmarshalYAML normalises the configured mode. An unknown value is kept as
// written so validation can report it.
func (m *RetryBackoffMode) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if mode := NormalizeRetryBackoff(raw); mode != "" {
		*m = mode
		return nil
	}
	*m = RetryBackoffMode(raw)
	return nil
}
