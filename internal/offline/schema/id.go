package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tempIDPattern matches <kind>_<unix millis>_<suffix>.
var tempIDPattern = regexp.MustCompile(`^[a-z]+_[0-9]+_[0-9a-z]+$`)

// tempSuffixLen is the length of the random part of a temporary identity.
const tempSuffixLen = 6

// now is replaced in tests.
var now = time.Now

// NewTempID mints a temporary identity for a record of the given kind.
func NewTempID(kind Kind) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:tempSuffixLen]
	return fmt.Sprintf("%s_%d_%s", kind, now().UnixMilli(), suffix)
}

// IsTempID reports whether id was minted locally and not yet confirmed by the
// remote system.
func IsTempID(id string) bool {
	return tempIDPattern.MatchString(id)
}

// TempIDTime returns the minting time embedded in a temporary identity.
func TempIDTime(id string) (time.Time, bool) {
	if !IsTempID(id) {
		return time.Time{}, false
	}
	parts := strings.Split(id, "_")
	ms, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// NewMutationID generates a new UUID v7 for a mutation. UUID v7 sorts by
// creation time, which keeps persisted queues readable.
func NewMutationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return uuid.New().String()
	}
	return id.String()
}
