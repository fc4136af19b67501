package version

import "testing"

func TestString(t *testing.T) {
	orig := []string{Version, Commit, BuildTime}
	defer func() { Version, Commit, BuildTime = orig[0], orig[1], orig[2] }()

	Version, Commit, BuildTime = "1.2.0", "abc1234", "2026-01-02T03:04:05Z"

	if got, want := String(), "1.2.0 (abc1234) built 2026-01-02T03:04:05Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := UserAgent(), "duelclient/1.2.0"; got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}
