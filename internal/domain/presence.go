package domain

import (
	"time"
)

// PresenceEntry represents one user's registered connection. A user has at
// most one live connection; a newer registration evicts the older one.
type PresenceEntry struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	DisplayName  string    `json:"display_name"`
	Language     string    `json:"preferred_language"` // BCP 47 tag, e.g. "hi-IN"
	Status       string    `json:"status"`             // online, offline
	LastSeen     time.Time `json:"last_seen"`
}

// Online reports whether the entry is currently connected
func (p *PresenceEntry) Online() bool {
	return p.Status == "online"
}
