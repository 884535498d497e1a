// Package state holds the synchronized per-room view: the loaded
// presentation, if any, and the current slide index. The index is
// always clamped into range, never rejected.
package state

import (
	"github.com/slidecast/backend/internal/model"
)

type Direction string

const (
	Next Direction = "next"
	Prev Direction = "prev"
)

type Store struct {
	rooms map[string]*model.RoomState
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*model.RoomState)}
}

// LoadPresentation replaces the room's presentation wholesale. The
// initial index comes from the presentation's own currentSlide field
// when it is in range, otherwise 0.
func (s *Store) LoadPresentation(roomCode string, p model.Presentation) model.RoomState {
	idx := 0
	if p.CurrentSlide > 0 && p.CurrentSlide < len(p.Slides) {
		idx = p.CurrentSlide
	}
	st := &model.RoomState{Presentation: &p, SlideIndex: idx}
	s.rooms[roomCode] = st
	return *st
}

// SetSlide moves the room to the requested index, clamped into
// [0, slideCount-1]. For a room with no presentation, or one with no
// slides, there is no index to synchronize, so the call is a no-op
// and ok is false.
func (s *Store) SetSlide(roomCode string, requested int) (model.RoomState, bool) {
	st := s.rooms[roomCode]
	if st == nil || st.Presentation == nil || len(st.Presentation.Slides) == 0 {
		return s.Get(roomCode), false
	}
	st.SlideIndex = clamp(requested, len(st.Presentation.Slides))
	return *st, true
}

// Step moves the current index by one in the given direction,
// saturating at the boundaries.
func (s *Store) Step(roomCode string, dir Direction) (model.RoomState, bool) {
	st := s.rooms[roomCode]
	if st == nil || st.Presentation == nil || len(st.Presentation.Slides) == 0 {
		return s.Get(roomCode), false
	}
	delta := 1
	if dir == Prev {
		delta = -1
	}
	st.SlideIndex = clamp(st.SlideIndex+delta, len(st.Presentation.Slides))
	return *st, true
}

// Get returns the room's state, or the zero state for an unseen room.
func (s *Store) Get(roomCode string) model.RoomState {
	if st := s.rooms[roomCode]; st != nil {
		return *st
	}
	return model.RoomState{}
}

// Drop discards a room's state when the room itself is pruned.
func (s *Store) Drop(roomCode string) {
	delete(s.rooms, roomCode)
}

// Codes lists every room with stored state, for the relay's sweep.
func (s *Store) Codes() []string {
	codes := make([]string, 0, len(s.rooms))
	for code := range s.rooms {
		codes = append(codes, code)
	}
	return codes
}

func clamp(idx, count int) int {
	if idx <= 0 || count <= 0 {
		return 0
	}
	if idx >= count {
		return count - 1
	}
	return idx
}
