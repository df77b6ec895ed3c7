package models

import "time"

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is one conversation owned by a single principal.
// Sessions are created explicitly and never deleted.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnRecord is one persisted conversation entry. Records are append-only and
// immutable once written; ordering is by server-assigned timestamp.
//
// IsAction marks raw action-execution traces. Those records are replayed into
// future model context but are excluded from the transcript shown to the user.
type TurnRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	IsAction  bool      `json:"is_action"`
	CreatedAt time.Time `json:"created_at"`
}
