package schema

import (
	"errors"
	"fmt"
)

// Kind identifies an entity collection.
type Kind string

const (
	// KindJob is a job card: work performed on a bike.
	KindJob Kind = "job"
	// KindCustomer is a garage customer.
	KindCustomer Kind = "customer"
	// KindService is a catalogue service that jobs reference.
	KindService Kind = "service"
	// KindBike is a customer's motorcycle.
	KindBike Kind = "bike"
)

// ErrUnknownKind is returned for kinds outside the supported set.
var ErrUnknownKind = errors.New("unknown entity kind")

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindJob, KindCustomer, KindService, KindBike}
}

// Validate checks that k is a supported kind.
func (k Kind) Validate() error {
	switch k {
	case KindJob, KindCustomer, KindService, KindBike:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
}

// ParseKind converts a user supplied name into a Kind.
// Plural forms ("jobs", "bikes") are accepted.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if k.Validate() == nil {
		return k, nil
	}
	if n := len(s); n > 1 && s[n-1] == 's' {
		k = Kind(s[:n-1])
		if k.Validate() == nil {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Plural returns the collection name used by the remote API ("jobs").
func (k Kind) Plural() string {
	return string(k) + "s"
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}
