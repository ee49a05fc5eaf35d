package version

import "testing"

func TestGetAndString(t *testing.T) {
	origV, origSHA, origTime := Version, GitSHA, BuildTime
	defer func() { Version, GitSHA, BuildTime = origV, origSHA, origTime }()

	Version, GitSHA, BuildTime = "v1.2.3", "abc123", "2026-01-01T00:00:00Z"

	if got := Get(); got != (Info{Version: "v1.2.3", GitSHA: "abc123", BuildTime: "2026-01-01T00:00:00Z"}) {
		t.Errorf("Get() = %+v", got)
	}
	if got := String(); got != "footfall v1.2.3 (git abc123, built 2026-01-01T00:00:00Z)" {
		t.Errorf("String() = %q", got)
	}
}
