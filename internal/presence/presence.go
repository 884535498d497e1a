// Package presence tracks device metadata, indexed both by device id
// (for roster resolution) and by transport connection handle (the only
// key the transport layer can supply reliably at disconnect time).
package presence

import (
	"github.com/slidecast/backend/internal/model"
)

type Tracker struct {
	byID   map[string]model.Device
	byConn map[model.ConnID]string
}

func NewTracker() *Tracker {
	return &Tracker{
		byID:   make(map[string]model.Device),
		byConn: make(map[model.ConnID]string),
	}
}

// Register upserts a device by id; a second registration with the same
// id replaces role, name, and connection wholesale (last write wins).
// The stale connection's index entry is removed so a later disconnect
// of the old transport cannot unregister the superseding one.
func (t *Tracker) Register(d model.Device) {
	if prev, ok := t.byID[d.ID]; ok && prev.Conn != d.Conn {
		if t.byConn[prev.Conn] == d.ID {
			delete(t.byConn, prev.Conn)
		}
	}
	t.byID[d.ID] = d
	t.byConn[d.Conn] = d.ID
}

// UnregisterByConn removes the device bound to conn and returns it.
// Unknown handles (a connection that never joined, or one superseded
// by a re-join) return false.
func (t *Tracker) UnregisterByConn(conn model.ConnID) (model.Device, bool) {
	id, ok := t.byConn[conn]
	if !ok {
		return model.Device{}, false
	}
	delete(t.byConn, conn)
	d, ok := t.byID[id]
	if !ok {
		return model.Device{}, false
	}
	delete(t.byID, id)
	return d, true
}

// Resolve maps ids to full device records, silently dropping any id
// with no current registration.
func (t *Tracker) Resolve(ids []string) []model.Device {
	devices := make([]model.Device, 0, len(ids))
	for _, id := range ids {
		if d, ok := t.byID[id]; ok {
			devices = append(devices, d)
		}
	}
	return devices
}

// Get returns the registration for a device id.
func (t *Tracker) Get(id string) (model.Device, bool) {
	d, ok := t.byID[id]
	return d, ok
}
