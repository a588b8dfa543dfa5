package domain

import (
	"strings"
	"time"
)

// Container lifecycle states. Transitions follow
// absent -> starting -> running -> (stopping -> stopped) | failed.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopping = "stopping"
	StatusStopped  = "stopped"
	StatusFailed   = "failed"
)

// ContainerRecord tracks a single-container deployment instance of a project.
type ContainerRecord struct {
	ID            int64             `json:"id"`
	ContainerID   string            `json:"container_id"`
	ContainerName string            `json:"container_name"`
	ProjectID     string            `json:"project_id"`
	HostPort      int               `json:"host_port"`
	AppPort       int               `json:"app_port"`
	Environment   map[string]string `json:"environment"`
	Command       string            `json:"command,omitempty"`
	Image         string            `json:"image"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	StoppedAt     *time.Time        `json:"stopped_at,omitempty"`
}

// Active reports whether the record holds its host port.
func (c ContainerRecord) Active() bool {
	return IsActiveStatus(c.Status)
}

// IsActiveStatus reports whether a status keeps a host port reserved.
func IsActiveStatus(status string) bool {
	switch status {
	case StatusStarting, StatusRunning, StatusStopping:
		return true
	default:
		return false
	}
}

// StatusFromRuntime maps a Docker container state onto the record state machine.
func StatusFromRuntime(state string, exitCode int) string {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "created", "restarting":
		return StatusStarting
	case "running", "paused":
		return StatusRunning
	case "removing":
		return StatusStopping
	case "exited":
		if exitCode != 0 {
			return StatusFailed
		}
		return StatusStopped
	case "dead":
		return StatusFailed
	default:
		return ""
	}
}

// CloneEnv returns a copy of env that is safe to mutate.
func CloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
