package domain

import "testing"

func TestStatusFromRuntime(t *testing.T) {
	cases := []struct {
		state string
		exit  int
		want  string
	}{
		{"created", 0, StatusStarting},
		{"running", 0, StatusRunning},
		{"Paused", 0, StatusRunning},
		{"removing", 0, StatusStopping},
		{"exited", 0, StatusStopped},
		{"exited", 137, StatusFailed},
		{"dead", 0, StatusFailed},
		{"unknown", 0, ""},
	}
	for _, tc := range cases {
		if got := StatusFromRuntime(tc.state, tc.exit); got != tc.want {
			t.Fatalf("StatusFromRuntime(%q, %d): expected %q, got %q", tc.state, tc.exit, tc.want, got)
		}
	}
}

func TestActiveStatuses(t *testing.T) {
	for _, status := range []string{StatusStarting, StatusRunning, StatusStopping} {
		if !IsActiveStatus(status) {
			t.Fatalf("expected %s to be active", status)
		}
	}
	for _, status := range []string{StatusStopped, StatusFailed, ""} {
		if IsActiveStatus(status) {
			t.Fatalf("expected %q to be inactive", status)
		}
	}
}
