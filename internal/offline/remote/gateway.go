// Package remote defines the boundary to the authoritative backend.
//
// The sync engine only sees the Gateway interface. HTTPGateway speaks the
// backend's REST API; package remotetest provides an in-memory fake with
// failure injection for tests.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/motogarage/garage/internal/offline/schema"
)

// Collection is the remote view of one entity kind. Every operation may fail;
// the caller treats any error as "keep the mutation queued".
type Collection interface {
	// GetAll returns the authoritative contents of the collection.
	GetAll(ctx context.Context) ([]schema.Record, error)

	// Create inserts a record and returns it with its server-assigned ID.
	Create(ctx context.Context, fields map[string]any) (schema.Record, error)

	// Update overlays fields onto the record with the given server ID.
	Update(ctx context.Context, id string, fields map[string]any) (schema.Record, error)

	// Delete removes the record. Deleting a record that is already gone
	// succeeds.
	Delete(ctx context.Context, id string) error
}

// Gateway hands out per-kind collections.
type Gateway interface {
	Collection(kind schema.Kind) Collection
}

// ErrIncompatibleVersion is returned by CheckVersion when the backend API is
// older than the client requires.
var ErrIncompatibleVersion = errors.New("remote API version is not supported")

// StatusError reports a non-2xx response from the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api %s %s returned status %d", e.Method, e.Path, e.Code)
}

// Rejected reports whether the backend refused the request itself (4xx),
// as opposed to being unavailable. Both outcomes keep the mutation queued;
// the distinction only matters for logging.
func Rejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}
