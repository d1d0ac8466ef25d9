package schema

import (
	"fmt"
	"time"
)

// Op is the kind of change a mutation carries.
type Op string

const (
	// OpCreate inserts a new record; TargetID is its temporary identity.
	OpCreate Op = "create"
	// OpUpdate overlays Payload onto an existing record.
	OpUpdate Op = "update"
	// OpDelete removes a record; Payload is empty.
	OpDelete Op = "delete"
)

// Mutation is one pending local change. It is immutable once enqueued and is
// consumed only after the remote call it represents succeeds.
type Mutation struct {
	ID         string         `json:"id"`
	Op         Op             `json:"op"`
	Kind       Kind           `json:"kind"`
	TargetID   string         `json:"target_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// NewMutation builds a mutation stamped with a fresh ID and the current time.
func NewMutation(op Op, kind Kind, targetID string, payload map[string]any) Mutation {
	var p map[string]any
	if payload != nil {
		p = copyFields(payload)
	}
	return Mutation{
		ID:         NewMutationID(),
		Op:         op,
		Kind:       kind,
		TargetID:   targetID,
		Payload:    p,
		EnqueuedAt: now().UTC(),
	}
}

// Validate checks if the Mutation has valid field values.
func (m Mutation) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch m.Op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("invalid op %q", m.Op)
	}
	if err := m.Kind.Validate(); err != nil {
		return err
	}
	if m.TargetID == "" {
		return fmt.Errorf("target_id is required")
	}
	if m.EnqueuedAt.IsZero() {
		return fmt.Errorf("enqueued_at is required")
	}
	return nil
}

// Entity returns the key of the record this mutation targets.
func (m Mutation) Entity() EntityKey {
	return EntityKey{Kind: m.Kind, ID: m.TargetID}
}

// String returns a short human-readable form for logs.
func (m Mutation) String() string {
	return fmt.Sprintf("%s %s#%s", m.Op, m.Kind, m.TargetID)
}

// EntityKey identifies one record across kinds.
type EntityKey struct {
	Kind Kind
	ID   string
}
