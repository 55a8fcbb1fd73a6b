package types

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// WatchID identifies a registered watch. IDs increase monotonically for the
// lifetime of a process and are never reused.
type WatchID int64

// String renders the id the way users refer to it ("#3").
func (id WatchID) String() string {
	return "#" + strconv.FormatInt(int64(id), 10)
}

// AlertID represents a UUIDv7 identifier for a delivered notification.
type AlertID string

// NewAlertID generates a UUIDv7 alert identifier.
// Time-ordered IDs keep history inserts clustered in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewAlertID() AlertID {
	return AlertID(uuid.Must(uuid.NewV7()).String())
}

// ParseAlertID validates and converts a string to AlertID.
func ParseAlertID(s string) (AlertID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return AlertID(s), nil
}

// AlertIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func AlertIDTime(id AlertID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
