package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"JobID", KeyJobID, "123", JobID("123")},
		{"JobStatus", KeyJobStatus, "waiting", JobStatus("waiting")},
		{"BuildID", KeyBuildID, "b-1", BuildID("b-1")},
		{"ExternalBuildID", KeyExternalBuildID, "ext-1", ExternalBuildID("ext-1")},
		{"ProjectID", KeyProjectID, "p-1", ProjectID("p-1")},
		{"Platform", KeyPlatform, "ios", Platform("ios")},
		{"Profile", KeyProfile, "production", Profile("production")},
		{"Status", KeyStatus, "building", Status("building")},
		{"ChannelID", KeyChannelID, "c-1", ChannelID("c-1")},
		{"UpdateID", KeyUpdateID, "u-1", UpdateID("u-1")},
		{"Stage", KeyStage, "lint", Stage("lint")},
		{"Dependency", KeyDependency, "provider", Dependency("provider")},
	}
	for _, c := range cases {
		if c.attr.Key != c.attrKey {
			t.Fatalf("%s key mismatch: got %s want %s", c.name, c.attr.Key, c.attrKey)
		}
		if c.attr.Value.String() != c.attrVal {
			t.Fatalf("%s value mismatch: got %s want %s", c.name, c.attr.Value.String(), c.attrVal)
		}
	}
}

func TestNumericHelpers(t *testing.T) {
	if a := Attempt(3); a.Key != KeyAttempt || a.Value.Int64() != 3 {
		t.Fatalf("unexpected attempt attr %v", a)
	}
	if a := JobPriority(10); a.Value.Int64() != 10 {
		t.Fatalf("unexpected priority attr %v", a)
	}
	if a := DurationMS(12.5); a.Value.Float64() != 12.5 {
		t.Fatalf("unexpected duration attr %v", a)
	}
}

func TestErrorHelper(t *testing.T) {
	if a := Error(nil); a.Value.String() != "" {
		t.Fatalf("nil error should render empty, got %q", a.Value.String())
	}
	if a := Error(errors.New("boom")); a.Value.String() != "boom" {
		t.Fatalf("expected boom, got %q", a.Value.String())
	}
}
