// Package registry owns the room-code -> member-set mapping. Rooms are
// created implicitly on first join and vanish when their last member
// leaves; no client message ever closes a room.
package registry

type room struct {
	members map[string]struct{}
	// order preserves first-join order for roster emission.
	order []string
}

type Registry struct {
	rooms map[string]*room
}

func New() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// AddMember adds deviceID to roomCode, creating the room if needed.
// Re-adding an existing member is a no-op on membership. Returns the
// roster ids in first-join order.
func (r *Registry) AddMember(roomCode, deviceID string) []string {
	rm := r.rooms[roomCode]
	if rm == nil {
		rm = &room{members: make(map[string]struct{})}
		r.rooms[roomCode] = rm
	}
	if _, ok := rm.members[deviceID]; !ok {
		rm.members[deviceID] = struct{}{}
		rm.order = append(rm.order, deviceID)
	}
	return append([]string(nil), rm.order...)
}

// RemoveMember removes deviceID from every room holding it. A device
// may belong to several rooms, so the result maps each affected room
// code to its remaining roster. Rooms left empty are dropped.
func (r *Registry) RemoveMember(deviceID string) map[string][]string {
	affected := make(map[string][]string)
	for code, rm := range r.rooms {
		if _, ok := rm.members[deviceID]; !ok {
			continue
		}
		delete(rm.members, deviceID)
		for i, id := range rm.order {
			if id == deviceID {
				rm.order = append(rm.order[:i], rm.order[i+1:]...)
				break
			}
		}
		affected[code] = append([]string(nil), rm.order...)
		if len(rm.members) == 0 {
			delete(r.rooms, code)
		}
	}
	return affected
}

// Members returns the roster ids for roomCode in first-join order,
// or nil for an unknown room.
func (r *Registry) Members(roomCode string) []string {
	rm := r.rooms[roomCode]
	if rm == nil {
		return nil
	}
	return append([]string(nil), rm.order...)
}

// Exists reports whether roomCode currently has any members.
func (r *Registry) Exists(roomCode string) bool {
	return r.rooms[roomCode] != nil
}

// Empty returns the codes of rooms with no members. With eager cleanup
// in RemoveMember this is normally nothing; the relay's sweep calls it
// as a backstop.
func (r *Registry) Empty() []string {
	var codes []string
	for code, rm := range r.rooms {
		if len(rm.members) == 0 {
			codes = append(codes, code)
		}
	}
	return codes
}

// Drop removes a room entry outright.
func (r *Registry) Drop(roomCode string) {
	delete(r.rooms, roomCode)
}
