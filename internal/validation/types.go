package validation

import (
	"time"

	"git.home.luguber.info/inful/shipwright/internal/config"
)

// Stage names in execution order.
const (
	StageTypecheck = "typecheck"
	StageLint      = "lint"
	StagePrebuild  = "prebuild"
	StageBundle    = "bundle"
)

// Severity of a diagnostic.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

var stageOrder = []string{StageTypecheck, StageLint, StagePrebuild, StageBundle}

// TierStages returns the stages a tier runs, in order. Unknown tiers run everything.
func TierStages(tier string) []string {
	switch tier {
	case config.TierFast:
		return stageOrder[:2]
	case config.TierStandard:
		return stageOrder[:3]
	default:
		return stageOrder
	}
}

// Diagnostic is one problem reported by a stage tool.
type Diagnostic struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Stage    string `json:"stage"`
	Rule     string `json:"rule,omitempty"`
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Name        string        `json:"name"`
	Passed      bool          `json:"passed"`
	ExitCode    int           `json:"exitCode"`
	Duration    time.Duration `json:"durationNs"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
}

// Result is the outcome of a pipeline run. Passed is the AND of all stages.
type Result struct {
	Tier     string        `json:"tier"`
	Passed   bool          `json:"passed"`
	Bypassed bool          `json:"bypassed,omitempty"`
	Errors   []Diagnostic  `json:"errors,omitempty"`
	Stages   []StageResult `json:"stages"`
}
