// Package model defines the data types persisted by the memory pipeline: chat
// records, the two-tier memory schema, the embedded processed-data record, and the
// per-namespace user-context profile.
package model

import "time"

// ChatRecord is a single recorded conversational turn. It is write-once: once
// inserted by the store, nothing in the pipeline mutates it again.
type ChatRecord struct {
	ChatID    string         `json:"chat_id"`
	UserInput string         `json:"user_input"`
	AIOutput  string         `json:"ai_output"`
	Model     string         `json:"model"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Namespace string         `json:"namespace"`
	Tokens    int            `json:"tokens"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
