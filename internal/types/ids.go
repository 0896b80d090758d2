// Package types defines the domain model shared across the space ledger,
// spawn engine, and daemon: entity structs, typed ids, status enums, the
// partial-update Optional, and the error taxonomy callers dispatch on.
package types

import (
	"encoding/hex"
	"regexp"

	"github.com/google/uuid"
)

// Typed id wrappers. Using distinct types keeps an AgentID from being
// passed where a SpawnID is expected.
type (
	AgentID    string
	ProjectID  string
	SpawnID    string
	DecisionID string
	InsightID  string
	TaskID     string
	ReplyID    string
)

func (id AgentID) String() string    { return string(id) }
func (id ProjectID) String() string  { return string(id) }
func (id SpawnID) String() string    { return string(id) }
func (id DecisionID) String() string { return string(id) }
func (id InsightID) String() string  { return string(id) }
func (id TaskID) String() string     { return string(id) }
func (id ReplyID) String() string    { return string(id) }

func (id AgentID) Short() string    { return ShortID(string(id)) }
func (id ProjectID) Short() string  { return ShortID(string(id)) }
func (id SpawnID) Short() string    { return ShortID(string(id)) }
func (id DecisionID) Short() string { return ShortID(string(id)) }
func (id InsightID) Short() string  { return ShortID(string(id)) }
func (id TaskID) Short() string     { return ShortID(string(id)) }
func (id ReplyID) Short() string    { return ShortID(string(id)) }

// NewID returns a fresh 32-char lowercase hex id (a dashless UUIDv4).
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// ShortID returns the 8-hex short form of an id. Short ids are what users
// type and what citations embed (i/a1b2c3d4).
func ShortID(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}

var hexRefRe = regexp.MustCompile(`^[a-f0-9]{8,32}$`)

// IsHexRef reports whether ref could be an id or id prefix: 8 to 32
// lowercase hex chars. Anything else is treated as an alternate key
// (handle, name) by the resolver.
func IsHexRef(ref string) bool {
	return hexRefRe.MatchString(ref)
}
