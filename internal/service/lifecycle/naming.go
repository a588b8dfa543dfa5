package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
)

const maxServiceName = 63

// containerName renders <name>-<unix_ts>-<8 hex>, the form resolve.ExtractName reverses.
func containerName(name string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", containerSafe(name), now.Unix(), shortHex())
}

// serviceName renders racer-<name>-<8 hex of the project id>.
func serviceName(name, projectID string) string {
	id := strings.ReplaceAll(projectID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	base := dnsSafe(name)
	limit := maxServiceName - len("racer-") - len(id) - 1
	if len(base) > limit {
		base = strings.TrimRight(base[:limit], "-")
	}
	return "racer-" + base + "-" + id
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func containerSafe(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.TrimLeft(b.String(), "_.-")
	if out == "" {
		return "app"
	}
	return out
}

func dnsSafe(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "app"
	}
	return out
}

// parseCommand splits a shell-like command line, honouring quotes and backslash escapes.
func parseCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, nil
	}
	tokens, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	return tokens, nil
}

func mergeEnv(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
