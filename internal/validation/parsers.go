package validation

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Parser extracts diagnostics from a tool's output.
type Parser func(output, stage string) []Diagnostic

var (
	// src/App.tsx(12,5): error TS2322: Type 'string' is not assignable to type 'number'.
	tscLine = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\): (error|warning) (TS\d+): (.+)$`)
	// /app/src/App.tsx:3:10: 'x' is defined but never used. [Error/no-unused-vars]
	eslintLine = regexp.MustCompile(`^(.+?):(\d+):(\d+): (.+?)(?: \[(Error|Warning)(?:/([^\]]+))?\])?$`)
	// Error: Unable to resolve module ./Missing from src/App.tsx
	genericLine = regexp.MustCompile(`(?:^|\s)(?:Error|ERROR|error):\s*(.+)$`)
)

// ParseTSC parses `tsc --pretty false` output.
func ParseTSC(output, stage string) []Diagnostic {
	var out []Diagnostic
	for _, line := range splitLines(output) {
		m := tscLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, Diagnostic{
			File:     m[1],
			Line:     atoi(m[2]),
			Column:   atoi(m[3]),
			Severity: m[4],
			Rule:     m[5],
			Message:  m[6],
			Stage:    stage,
		})
	}
	return out
}

// ParseESLintUnix parses `eslint --format unix` output.
func ParseESLintUnix(output, stage string) []Diagnostic {
	var out []Diagnostic
	for _, line := range splitLines(output) {
		m := eslintLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		severity := SeverityError
		if m[5] == "Warning" {
			severity = SeverityWarning
		}
		out = append(out, Diagnostic{
			File:     m[1],
			Line:     atoi(m[2]),
			Column:   atoi(m[3]),
			Message:  m[4],
			Severity: severity,
			Rule:     m[6],
			Stage:    stage,
		})
	}
	return out
}

// ParseGeneric picks up "Error: ..." lines emitted by bundlers and CLIs.
func ParseGeneric(output, stage string) []Diagnostic {
	var out []Diagnostic
	for _, line := range splitLines(output) {
		m := genericLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, Diagnostic{Message: strings.TrimSpace(m[1]), Severity: SeverityError, Stage: stage})
	}
	return out
}

// parserFor selects a parser by the tool the stage command invokes.
func parserFor(argv []string) Parser {
	for _, arg := range argv {
		switch strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg)) {
		case "tsc":
			return ParseTSC
		case "eslint":
			return ParseESLintUnix
		}
	}
	return ParseGeneric
}

// fallback produces a single diagnostic from raw output so a failing stage
// never reports zero errors.
func fallback(output, stage string, limit int) Diagnostic {
	msg := strings.TrimSpace(output)
	if r := []rune(msg); limit > 0 && len(r) > limit {
		msg = string(r[:limit])
	}
	if msg == "" {
		msg = stage + " failed without output"
	}
	return Diagnostic{Message: msg, Severity: SeverityError, Stage: stage}
}

func splitLines(s string) []string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimRight(l, " \t"); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
