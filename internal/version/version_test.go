package version

import "testing"

func TestString(t *testing.T) {
	Version, Commit, Date = "1.4.0", "abc123", "2026-10-01"
	t.Cleanup(func() { Version, Commit, Date = "dev", "unknown", "unknown" })

	if got := String(); got != "1.4.0 (commit abc123, built 2026-10-01)" {
		t.Errorf("got %q", got)
	}
	if got := Agent("cli"); got != "vulnharvest-cli/1.4.0" {
		t.Errorf("got %q", got)
	}
}
