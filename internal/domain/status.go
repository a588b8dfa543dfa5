package domain

import "time"

// ContainerStatus merges a persisted record with live runtime data.
type ContainerStatus struct {
	Record        ContainerRecord `json:"record"`
	State         string          `json:"state"`
	RuntimeState  string          `json:"runtime_state,omitempty"`
	Health        string          `json:"health,omitempty"`
	LivePorts     map[string]int  `json:"live_ports,omitempty"`
	LiveStartedAt *time.Time      `json:"live_started_at,omitempty"`
	Uptime        string          `json:"uptime,omitempty"`
	URL           string          `json:"url,omitempty"`
	Live          bool            `json:"live"`
}

// ReplicaStatus describes one orchestrated task of a scale group.
type ReplicaStatus struct {
	TaskID      string `json:"task_id"`
	Slot        int    `json:"slot"`
	State       string `json:"state"`
	Desired     string `json:"desired_state"`
	ContainerID string `json:"container_id,omitempty"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// GroupStatus merges a persisted scale group with its live replicas.
type GroupStatus struct {
	Group    ScaleGroup      `json:"group"`
	Running  int             `json:"running_replicas"`
	Replicas []ReplicaStatus `json:"replicas"`
	URL      string          `json:"url,omitempty"`
	Live     bool            `json:"live"`
}

// StatusView is the read-only merged view of one project.
type StatusView struct {
	Project    Project           `json:"project"`
	State      string            `json:"state"`
	Containers []ContainerStatus `json:"containers"`
	Group      *GroupStatus      `json:"scale_group,omitempty"`
	Stale      bool              `json:"stale"`
	Warnings   []string          `json:"warnings,omitempty"`
}
