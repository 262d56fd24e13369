package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTSC(t *testing.T) {
	out := strings.Join([]string{
		"src/App.tsx(12,5): error TS2322: Type 'string' is not assignable to type 'number'.",
		"src/util/date.ts(3,18): error TS2307: Cannot find module 'dayjs' or its corresponding type declarations.",
		"Found 2 errors in 2 files.",
	}, "\n")
	ds := ParseTSC(out, StageTypecheck)
	require.Len(t, ds, 2)
	assert.Equal(t, Diagnostic{
		File: "src/App.tsx", Line: 12, Column: 5,
		Message:  "Type 'string' is not assignable to type 'number'.",
		Severity: SeverityError, Stage: StageTypecheck, Rule: "TS2322",
	}, ds[0])
	assert.Equal(t, "src/util/date.ts", ds[1].File)
}

func TestParseESLintUnix(t *testing.T) {
	out := "/app/src/App.tsx:3:10: 'x' is defined but never used. [Error/no-unused-vars]\r\n" +
		"/app/src/App.tsx:7:1: Unexpected console statement. [Warning/no-console]\n" +
		"/app/src/b.ts:1:1: Parsing error: Unexpected token\n" +
		"\n3 problems\n"
	ds := ParseESLintUnix(out, StageLint)
	require.Len(t, ds, 3)
	assert.Equal(t, "no-unused-vars", ds[0].Rule)
	assert.Equal(t, SeverityError, ds[0].Severity)
	assert.Equal(t, SeverityWarning, ds[1].Severity)
	assert.Equal(t, "Parsing error: Unexpected token", ds[2].Message)
	assert.Equal(t, SeverityError, ds[2].Severity)
}

func TestParseGeneric(t *testing.T) {
	out := "Starting Metro Bundler\nError: Unable to resolve module ./Missing from src/App.tsx\n  at resolve (x.js:1)\n"
	ds := ParseGeneric(out, StageBundle)
	require.Len(t, ds, 1)
	assert.Equal(t, "Unable to resolve module ./Missing from src/App.tsx", ds[0].Message)
	assert.Empty(t, ParseGeneric("all good", StageBundle))
}

func TestParserFor(t *testing.T) {
	assert.NotNil(t, parserFor([]string{"npx", "tsc", "--noEmit"}))
	ds := parserFor([]string{"node_modules/.bin/eslint", "."})("a.ts:1:2: bad [Error/r]", StageLint)
	require.Len(t, ds, 1)
	assert.Equal(t, "a.ts", ds[0].File)
}

func TestFallbackTruncates(t *testing.T) {
	d := fallback(strings.Repeat("é", 600), StagePrebuild, 500)
	assert.Len(t, []rune(d.Message), 500)
	assert.Equal(t, SeverityError, d.Severity)
	assert.Equal(t, "prebuild failed without output", fallback("  \n", StagePrebuild, 500).Message)
}
