package types

import "time"

type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"` // created, connected, disconnected

	WorkerConnectedAt *time.Time `json:"worker_connected_at,omitempty"`
}
