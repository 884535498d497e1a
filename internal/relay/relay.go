// Package relay is the single authority for all room state. Every
// inbound transport event becomes one message on the relay's inbox and
// is processed to completion (mutate, then fan out) by one goroutine,
// so the registry, presence tracker, and state store never see
// concurrent mutation and every emitted snapshot matches the mutation
// that produced it.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/slidecast/backend/internal/model"
	"github.com/slidecast/backend/internal/presence"
	"github.com/slidecast/backend/internal/registry"
	"github.com/slidecast/backend/internal/state"
	"github.com/slidecast/backend/pkg/types"
)

type Msg interface{ isRelayMsg() }

// JoinRoom admits a device into a room. The first JoinRoom on a
// connection also binds its outbox; before that the connection is
// anonymous and the relay ignores it.
type JoinRoom struct {
	Conn     model.ConnID
	Outbox   chan types.ServerMessage
	RoomCode string
	DeviceID string
	Role     model.Role
	Name     string
}

type SlideChange struct {
	RoomCode  string
	DeviceID  string
	Direction string // "next" | "prev" | "goto"
	Target    *int   // absolute index for "goto"
}

type LoadPresentation struct {
	RoomCode     string
	DeviceID     string
	Presentation model.Presentation
}

// ConnClosed is sent exactly once per connection by the transport
// layer, for clean closes and socket errors alike.
type ConnClosed struct {
	Conn model.ConnID
}

// GetRoom reflects a room's roster and state without data races; used
// by the HTTP snapshot endpoint and tests.
type GetRoom struct {
	RoomCode string
	Reply    chan RoomView
}

type Shutdown struct{}

func (JoinRoom) isRelayMsg()         {}
func (SlideChange) isRelayMsg()      {}
func (LoadPresentation) isRelayMsg() {}
func (ConnClosed) isRelayMsg()       {}
func (GetRoom) isRelayMsg()          {}
func (Shutdown) isRelayMsg()         {}

type RoomView struct {
	Exists  bool
	RoomID  string
	Devices []model.Device
	State   model.RoomState
}

type Relay struct {
	inbox    chan Msg
	rooms    *registry.Registry
	devices  *presence.Tracker
	store    *state.Store
	outboxes map[model.ConnID]chan types.ServerMessage
	clock    clockwork.Clock
	ctx      context.Context
	cancel   context.CancelFunc
}

type Options struct {
	Clock clockwork.Clock
	// SweepInterval paces the empty-room backstop sweep. Zero disables
	// it; eager cleanup on disconnect covers the common case.
	SweepInterval time.Duration
}

func New(parent context.Context, opts Options) *Relay {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Relay{
		inbox:    make(chan Msg, 64),
		rooms:    registry.New(),
		devices:  presence.NewTracker(),
		store:    state.NewStore(),
		outboxes: make(map[model.ConnID]chan types.ServerMessage),
		clock:    opts.Clock,
		ctx:      ctx,
		cancel:   cancel,
	}
	go r.loop(opts.SweepInterval)
	return r
}

func (r *Relay) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the relay has shut down and will no longer
// answer messages; callers waiting on a Reply select against it.
func (r *Relay) Done() <-chan struct{} { return r.ctx.Done() }

func (r *Relay) loop(sweepEvery time.Duration) {
	var sweepCh <-chan time.Time
	if sweepEvery > 0 {
		sweep := r.clock.NewTicker(sweepEvery)
		defer sweep.Stop()
		sweepCh = sweep.Chan()
	}

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case <-sweepCh:
			r.sweep()

		case m := <-r.inbox:
			switch msg := m.(type) {
			case JoinRoom:
				r.handleJoin(msg)
			case SlideChange:
				r.handleSlideChange(msg)
			case LoadPresentation:
				r.handleLoad(msg)
			case ConnClosed:
				r.handleConnClosed(msg)
			case GetRoom:
				msg.Reply <- RoomView{
					Exists:  r.rooms.Exists(msg.RoomCode),
					RoomID:  msg.RoomCode,
					Devices: r.devices.Resolve(r.rooms.Members(msg.RoomCode)),
					State:   r.store.Get(msg.RoomCode),
				}
			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Relay) handleJoin(msg JoinRoom) {
	if msg.Outbox != nil {
		r.outboxes[msg.Conn] = msg.Outbox
	}

	name := msg.Name
	if name == "" {
		name = fmt.Sprintf("%s_%s", msg.Role, msg.DeviceID)
	}
	r.devices.Register(model.Device{
		ID:          msg.DeviceID,
		Name:        name,
		Role:        msg.Role,
		ConnectedAt: r.clock.Now(),
		Conn:        msg.Conn,
	})

	ids := r.rooms.AddMember(msg.RoomCode, msg.DeviceID)
	roster := r.devices.Resolve(ids)

	log.Info().
		Str("room", msg.RoomCode).
		Str("device", msg.DeviceID).
		Str("role", string(msg.Role)).
		Int("members", len(roster)).
		Msg("device joined room")

	r.emitToRoom(msg.RoomCode, types.ServerMessage{
		Type: types.EvtRoomJoined,
		Data: types.RoomJoined{RoomID: msg.RoomCode, Devices: roster},
	})
	r.emitToRoom(msg.RoomCode, types.ServerMessage{
		Type: types.EvtDevicesUpdated,
		Data: roster,
	})

	// Late-joiner catch-up: replay the authoritative deck state to the
	// room so the new member converges without waiting for the next
	// slide change.
	if st := r.store.Get(msg.RoomCode); st.Presentation != nil {
		r.emitToRoom(msg.RoomCode, presentationLoadedEvent(st))
	}
}

func (r *Relay) handleSlideChange(msg SlideChange) {
	var st model.RoomState
	var ok bool
	switch msg.Direction {
	case "next":
		st, ok = r.store.Step(msg.RoomCode, state.Next)
	case "prev":
		st, ok = r.store.Step(msg.RoomCode, state.Prev)
	default:
		if msg.Target == nil {
			log.Warn().
				Str("room", msg.RoomCode).
				Str("device", msg.DeviceID).
				Str("direction", msg.Direction).
				Msg("slide_change with no direction or target, dropping")
			return
		}
		st, ok = r.store.SetSlide(msg.RoomCode, *msg.Target)
	}
	if !ok {
		// No presentation loaded; nothing is synchronized yet.
		log.Debug().
			Str("room", msg.RoomCode).
			Str("device", msg.DeviceID).
			Msg("slide_change on room with no presentation")
		return
	}

	// The sender is included on purpose: it reconciles to the clamped
	// index instead of trusting its own optimistic one.
	r.emitToRoom(msg.RoomCode, types.ServerMessage{
		Type: types.EvtSlideChanged,
		Data: types.SlideChanged{SlideNumber: st.SlideIndex},
	})
}

func (r *Relay) handleLoad(msg LoadPresentation) {
	st := r.store.LoadPresentation(msg.RoomCode, msg.Presentation)
	log.Info().
		Str("room", msg.RoomCode).
		Str("device", msg.DeviceID).
		Str("presentation", msg.Presentation.ID).
		Int("slides", len(msg.Presentation.Slides)).
		Msg("presentation loaded")
	r.emitToRoom(msg.RoomCode, presentationLoadedEvent(st))
}

func (r *Relay) handleConnClosed(msg ConnClosed) {
	if out, ok := r.outboxes[msg.Conn]; ok {
		close(out)
		delete(r.outboxes, msg.Conn)
	}

	d, ok := r.devices.UnregisterByConn(msg.Conn)
	if !ok {
		// Anonymous connection, or superseded by a re-join.
		return
	}

	affected := r.rooms.RemoveMember(d.ID)
	for code, remaining := range affected {
		if len(remaining) == 0 {
			r.store.Drop(code)
			log.Info().Str("room", code).Msg("room emptied")
			continue
		}
		r.emitToRoom(code, types.ServerMessage{
			Type: types.EvtDevicesUpdated,
			Data: r.devices.Resolve(remaining),
		})
	}

	log.Info().
		Str("device", d.ID).
		Int("rooms", len(affected)).
		Msg("device disconnected")
}

// emitToRoom fans an event out to every member connection, the sender
// included. Writes are fire-and-forget: a full outbox drops the event
// for that device rather than stalling the relay.
func (r *Relay) emitToRoom(roomCode string, msg types.ServerMessage) {
	for _, d := range r.devices.Resolve(r.rooms.Members(roomCode)) {
		out, ok := r.outboxes[d.Conn]
		if !ok {
			continue
		}
		select {
		case out <- msg:
		default:
			log.Warn().
				Str("room", roomCode).
				Str("device", d.ID).
				Str("type", msg.Type).
				Msg("outbox full, dropping event")
		}
	}
}

func (r *Relay) sweep() {
	for _, code := range r.rooms.Empty() {
		r.rooms.Drop(code)
		r.store.Drop(code)
	}
	// State loaded into a room nobody is a member of (e.g. a load
	// straight after every member left) goes with it.
	for _, code := range r.store.Codes() {
		if !r.rooms.Exists(code) {
			r.store.Drop(code)
		}
	}
}

func (r *Relay) shutdown() {
	for conn, out := range r.outboxes {
		close(out)
		delete(r.outboxes, conn)
	}
	r.cancel()
}

func presentationLoadedEvent(st model.RoomState) types.ServerMessage {
	p := *st.Presentation
	p.CurrentSlide = st.SlideIndex
	return types.ServerMessage{
		Type: types.EvtPresentationLoaded,
		Data: types.PresentationLoaded{Presentation: p},
	}
}
