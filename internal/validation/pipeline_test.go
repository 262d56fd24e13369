package validation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shipwright/internal/config"
)

type fakeResult struct {
	out  string
	code int
	err  error
}

type fakeRunner struct {
	mu      sync.Mutex
	results map[string]fakeResult // keyed by command name + first arg
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, dir, name string, args []string) ([]byte, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := name
	if len(args) > 0 {
		key += " " + args[0]
	}
	f.calls = append(f.calls, key)
	r := f.results[key]
	return []byte(r.out), r.code, r.err
}

func testConfig() config.ValidationConfig {
	return config.ValidationConfig{
		Tier: config.TierFull,
		Commands: map[string]string{
			StageTypecheck: "tsc --noEmit",
			StageLint:      "eslint --format unix .",
			StagePrebuild:  "expo prebuild",
			StageBundle:    "expo export",
		},
	}
}

func TestRunTierStages(t *testing.T) {
	cases := []struct {
		tier string
		want []string
	}{
		{config.TierFast, []string{"tsc --noEmit", "eslint --format"}},
		{config.TierStandard, []string{"tsc --noEmit", "eslint --format", "expo prebuild"}},
		{config.TierFull, []string{"tsc --noEmit", "eslint --format", "expo prebuild", "expo export"}},
	}
	for _, c := range cases {
		t.Run(c.tier, func(t *testing.T) {
			r := &fakeRunner{}
			p, err := New(testConfig(), nil, WithRunner(r))
			require.NoError(t, err)
			res, err := p.RunTier(context.Background(), "/src/app", c.tier)
			require.NoError(t, err)
			assert.True(t, res.Passed)
			assert.Equal(t, c.want, r.calls)
		})
	}
}

func TestRunTierCollectsAllFailures(t *testing.T) {
	r := &fakeRunner{results: map[string]fakeResult{
		"tsc --noEmit":    {out: "src/a.ts(1,2): error TS1005: ';' expected.", code: 2},
		"eslint --format": {out: "src/a.ts:4:1: Unexpected var. [Warning/no-var]", code: 0},
		"expo prebuild":   {out: "something went badly wrong", code: 1},
		"expo export":     {err: ErrToolNotFound, code: -1},
	}}
	p, err := New(testConfig(), nil, WithRunner(r))
	require.NoError(t, err)

	res, err := p.RunTier(context.Background(), "/src/app", config.TierFull)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Stages, 4)
	assert.False(t, res.Stages[0].Passed)
	assert.True(t, res.Stages[1].Passed)
	assert.False(t, res.Stages[2].Passed)
	assert.False(t, res.Stages[3].Passed)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, "src/a.ts", res.Errors[0].File)
	assert.Equal(t, "something went badly wrong", res.Errors[1].Message)
	assert.Equal(t, StagePrebuild, res.Errors[1].Stage)
	assert.Contains(t, res.Errors[2].Message, "not found")
}

func TestValidateBypassIsHotReloadable(t *testing.T) {
	r := &fakeRunner{results: map[string]fakeResult{"tsc --noEmit": {code: 1}}}
	cfg := &config.Config{Validation: testConfig()}
	rt := config.NewRuntime(cfg, nil)
	p, err := New(cfg.Validation, rt, WithRunner(r))
	require.NoError(t, err)

	res, err := p.Validate(context.Background(), "/src/app", config.TierFast)
	require.NoError(t, err)
	assert.False(t, res.Passed)

	rt.SetValidationBypass(true)
	calls := len(r.calls)
	res, err = p.Validate(context.Background(), "/src/app", "")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.True(t, res.Bypassed)
	assert.Equal(t, config.TierFull, res.Tier)
	assert.Len(t, r.calls, calls)
}

func TestRunTierRejectsUnknownTier(t *testing.T) {
	p, err := New(testConfig(), nil, WithRunner(&fakeRunner{}))
	require.NoError(t, err)
	_, err = p.RunTier(context.Background(), "/src/app", "exhaustive")
	require.Error(t, err)
}

func TestNewRejectsBadCommand(t *testing.T) {
	cfg := testConfig()
	cfg.Commands[StageLint] = `eslint "unterminated`
	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestRunTierStopsOnCancelledContext(t *testing.T) {
	p, err := New(testConfig(), nil, WithRunner(&fakeRunner{}))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.RunTier(ctx, "/src/app", config.TierFull)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPassingStageOutputIsAdvisory(t *testing.T) {
	r := &fakeRunner{results: map[string]fakeResult{
		"expo export": {out: "Error: legacy asset config, falling back to defaults", code: 0},
	}}
	p, err := New(testConfig(), nil, WithRunner(r))
	require.NoError(t, err)

	res, err := p.RunTier(context.Background(), "/src/app", config.TierFull)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Errors)

	bundle := res.Stages[3]
	require.Equal(t, StageBundle, bundle.Name)
	assert.True(t, bundle.Passed)
	require.NotEmpty(t, bundle.Diagnostics)
	for _, d := range bundle.Diagnostics {
		assert.Equal(t, SeverityWarning, d.Severity)
	}
}
