package version

import "testing"

func TestString(t *testing.T) {
	prev := [3]string{Version, GitSHA, BuildTime}
	t.Cleanup(func() { Version, GitSHA, BuildTime = prev[0], prev[1], prev[2] })

	Version, GitSHA, BuildTime = "v0.3.1", "abc1234", "2026-10-01T12:00:00Z"
	if got, want := String(), "v0.3.1 (abc1234, built 2026-10-01T12:00:00Z)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
