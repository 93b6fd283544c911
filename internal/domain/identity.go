// Package domain contains entities without transport or lifecycle logic.
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 40

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
)

type (
	IdentityID string
	RoomID     string
)

// Identity is a stable per-user presence record, distinct from any one
// connection. Key is the client-held reattachment token and never leaves
// the server.
type Identity struct {
	ID          IdentityID `json:"id"`
	DisplayName string     `json:"name"`
	Color       string     `json:"color"`
	Key         string     `json:"-"`
}

// NewIdentity avoids ad-hoc struct literals in adapters.
func NewIdentity(name, color, key string) *Identity {
	return &Identity{
		ID:          IdentityID(uuid.NewString()),
		DisplayName: name,
		Color:       color,
		Key:         key,
	}
}

// SetDisplayName trims and caps the name. Empty-after-trim is rejected so
// callers can treat it as a no-op.
func (i *Identity) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameEmpty
	}
	if r := []rune(name); len(r) > MaxDisplayNameLen {
		name = string(r[:MaxDisplayNameLen])
	}
	i.DisplayName = name
	return nil
}
