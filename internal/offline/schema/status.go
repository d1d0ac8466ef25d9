package schema

import "time"

// Status is the derived sync state shown to the UI. It is computed on demand
// and never persisted.
type Status struct {
	Online          bool               `json:"online"`
	PendingCount    int                `json:"pending_count"`
	PendingByKind   map[Kind]int       `json:"pending_by_kind,omitempty"`
	Syncing         bool               `json:"syncing"`
	LastSyncedAt    time.Time          `json:"last_synced_at,omitempty"`
	LastSyncPerKind map[Kind]time.Time `json:"last_sync_per_kind,omitempty"`
}

// Report summarises one sync cycle.
type Report struct {
	Applied  int           `json:"applied"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Pulled   []Kind        `json:"pulled,omitempty"`
	Deferred []Kind        `json:"deferred,omitempty"`
	Duration time.Duration `json:"duration"`
}
