package model

import (
	"time"

	"github.com/google/uuid"
)

// ConnID is an opaque handle for one transport connection. The relay
// looks devices up by it on disconnect but never writes through it.
type ConnID = uuid.UUID

type Role string

const (
	RolePresenter  Role = "presenter"
	RoleController Role = "controller"
)

// ParseRole maps a wire deviceType to a Role, defaulting to presenter
// the way the original client does when the field is missing.
func ParseRole(s string) Role {
	if s == string(RoleController) {
		return RoleController
	}
	return RolePresenter
}

// Device is one connected endpoint. The id is minted and persisted by
// the client so it survives reconnects; the relay never generates it.
type Device struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Role        Role      `json:"type"`
	ConnectedAt time.Time `json:"connectedAt"`

	// Conn is the transport connection currently bound to this device.
	// A re-join from a new connection supersedes it.
	Conn ConnID `json:"-"`
}

type Slide struct {
	ID       int      `json:"id"`
	Title    string   `json:"title"`
	Notes    string   `json:"notes"`
	Content  []string `json:"content"`
	ImageURL string   `json:"imageUrl,omitempty"`
}

// Presentation is immutable once loaded into a room; a new load
// replaces it wholesale. CurrentSlide is only advisory on the way in
// (the state store clamps it) and authoritative on the way out.
type Presentation struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Slides       []Slide `json:"slides"`
	CurrentSlide int     `json:"currentSlide"`
}

// RoomState is the synchronized view every member of a room converges
// to. SlideIndex is meaningless until a presentation is loaded.
type RoomState struct {
	Presentation *Presentation
	SlideIndex   int
}
