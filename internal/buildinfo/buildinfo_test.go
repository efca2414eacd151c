package buildinfo

import (
	"strings"
	"testing"
)

func TestUserAgentIncludesVersion(t *testing.T) {
	ua := UserAgent()
	if !strings.Contains(ua, Version) {
		t.Errorf("UserAgent() = %q, want it to contain version %q", ua, Version)
	}
	if !strings.HasPrefix(ua, "kitsh/") {
		t.Errorf("UserAgent() = %q, want kitsh/ prefix", ua)
	}
}

func TestRuntimeInfoIncludesUptime(t *testing.T) {
	info := RuntimeInfo()
	if _, ok := info["uptime"]; !ok {
		t.Fatal("RuntimeInfo() missing uptime key")
	}
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if _, ok := info[k]; !ok {
			t.Errorf("RuntimeInfo() missing key %q", k)
		}
	}
}

func TestUptimeIsNonNegative(t *testing.T) {
	if Uptime() < 0 {
		t.Fatalf("Uptime() = %v, want non-negative", Uptime())
	}
}
