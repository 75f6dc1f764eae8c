package graph

import (
	"strings"
	"testing"
	"time"
)

func TestCheckVersionFlagsOlderVersion(t *testing.T) {
	t.Parallel()

	status, ok := CheckVersion("v24.0", time.Date(2026, time.July, 2, 0, 0, 0, 0, time.UTC))
	if !ok {
		t.Fatal("expected v24.0 to be known")
	}
	if !status.Deprecated {
		t.Fatal("expected v24.0 to be deprecated")
	}
	if status.Latest != "v25.0" {
		t.Fatalf("unexpected latest version %q", status.Latest)
	}
	if !strings.Contains(status.Warning(), "was deprecated on 2026-07-01") {
		t.Fatalf("unexpected warning %q", status.Warning())
	}
}

func TestCheckVersionWarnsNearDeprecation(t *testing.T) {
	t.Parallel()

	status, _ := CheckVersion("v25.0", time.Date(2026, time.September, 15, 0, 0, 0, 0, time.UTC))
	if status.Deprecated {
		t.Fatal("expected v25.0 to still be supported")
	}
	if status.DaysToDeprecation != 16 {
		t.Fatalf("unexpected days to deprecation %d", status.DaysToDeprecation)
	}
	if !strings.Contains(status.Warning(), "deprecated in 16 days") {
		t.Fatalf("unexpected warning %q", status.Warning())
	}
}

func TestCheckVersionQuietWhenFarFromDeprecation(t *testing.T) {
	t.Parallel()

	status, _ := CheckVersion("v25.0", time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC))
	if warning := status.Warning(); warning != "" {
		t.Fatalf("expected no warning, got %q", warning)
	}
	if _, ok := CheckVersion("v99.0", time.Now()); ok {
		t.Fatal("expected unknown version")
	}
}
