package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/slidecast/backend/internal/model"
	"github.com/slidecast/backend/pkg/types"
)

// helper: receive one event with a timeout so tests never hang
func recvEvent(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) types.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return types.ServerMessage{} // unreachable
	}
}

func recvNoEvent(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no event within %v, but got: %+v", within, msg)
	case <-time.After(within):
	}
}

func drainEvents(t *testing.T, ch <-chan types.ServerMessage, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		recvEvent(t, ch, 200*time.Millisecond)
	}
}

func roomView(t *testing.T, r *Relay, code string) RoomView {
	t.Helper()
	reply := make(chan RoomView, 1)
	r.Inbox() <- GetRoom{RoomCode: code, Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timed out waiting for room view")
		return RoomView{} // unreachable
	}
}

type member struct {
	conn model.ConnID
	out  chan types.ServerMessage
}

func join(r *Relay, m member, room, id string, role model.Role) {
	r.Inbox() <- JoinRoom{Conn: m.conn, Outbox: m.out, RoomCode: room, DeviceID: id, Role: role, Name: id}
}

func newMember() member {
	return member{conn: uuid.New(), out: make(chan types.ServerMessage, 16)}
}

func newRelay(t *testing.T) *Relay {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, Options{})
}

func deck(n int) model.Presentation {
	slides := make([]model.Slide, n)
	for i := range slides {
		slides[i] = model.Slide{ID: i + 1, Title: fmt.Sprintf("slide %d", i+1), Content: []string{"x"}}
	}
	return model.Presentation{ID: "ppt_test", Title: "deck", Slides: slides}
}

func TestJoin_BroadcastsRosterToWholeRoom(t *testing.T) {
	r := newRelay(t)
	p, c := newMember(), newMember()

	join(r, p, "ABC123", "p1", model.RolePresenter)
	drainEvents(t, p.out, 2) // own room_joined + devices_updated

	join(r, c, "ABC123", "c1", model.RoleController)

	// Existing member sees the new roster too.
	joined := recvEvent(t, p.out, 200*time.Millisecond)
	require.Equal(t, types.EvtRoomJoined, joined.Type)
	rj, ok := joined.Data.(types.RoomJoined)
	require.True(t, ok)
	require.Equal(t, "ABC123", rj.RoomID)
	require.Len(t, rj.Devices, 2)
	require.Equal(t, "p1", rj.Devices[0].ID, "roster keeps first-join order")
	require.Equal(t, "c1", rj.Devices[1].ID)

	updated := recvEvent(t, p.out, 200*time.Millisecond)
	require.Equal(t, types.EvtDevicesUpdated, updated.Type)
	roster, ok := updated.Data.([]model.Device)
	require.True(t, ok)
	require.Len(t, roster, 2)

	// The joiner receives both as well.
	joined = recvEvent(t, c.out, 200*time.Millisecond)
	require.Equal(t, types.EvtRoomJoined, joined.Type)
	drainEvents(t, c.out, 1)
}

func TestJoin_Idempotent(t *testing.T) {
	r := newRelay(t)
	p := newMember()

	join(r, p, "ABC123", "p1", model.RolePresenter)
	drainEvents(t, p.out, 2)

	join(r, p, "ABC123", "p1", model.RolePresenter)
	joined := recvEvent(t, p.out, 200*time.Millisecond)
	rj := joined.Data.(types.RoomJoined)
	require.Len(t, rj.Devices, 1, "re-join must not duplicate the roster entry")
	drainEvents(t, p.out, 1)

	v := roomView(t, r, "ABC123")
	require.Len(t, v.Devices, 1)
}

func TestJoin_MultipleRoomsKeepsBothMemberships(t *testing.T) {
	r := newRelay(t)
	d := newMember()

	join(r, d, "ROOMAA", "d1", model.RolePresenter)
	drainEvents(t, d.out, 2)
	join(r, d, "ROOMBB", "d1", model.RolePresenter)
	drainEvents(t, d.out, 2)

	require.Len(t, roomView(t, r, "ROOMAA").Devices, 1)
	require.Len(t, roomView(t, r, "ROOMBB").Devices, 1)
}

func TestSlideChange_NoPresentation_NoBroadcast(t *testing.T) {
	r := newRelay(t)
	p := newMember()

	join(r, p, "ABC123", "p1", model.RolePresenter)
	drainEvents(t, p.out, 2)

	r.Inbox() <- SlideChange{RoomCode: "ABC123", DeviceID: "p1", Direction: "next"}

	recvNoEvent(t, p.out, 150*time.Millisecond)
	v := roomView(t, r, "ABC123")
	require.Nil(t, v.State.Presentation)
}

func TestSlideChange_EmptyDeck_NoBroadcast(t *testing.T) {
	r := newRelay(t)
	p := newMember()

	join(r, p, "ABC123", "p1", model.RolePresenter)
	drainEvents(t, p.out, 2)
	r.Inbox() <- LoadPresentation{RoomCode: "ABC123", DeviceID: "p1", Presentation: deck(0)}
	drainEvents(t, p.out, 1)

	r.Inbox() <- SlideChange{RoomCode: "ABC123", DeviceID: "p1", Direction: "next"}
	target := 2
	r.Inbox() <- SlideChange{RoomCode: "ABC123", DeviceID: "p1", Direction: "goto", Target: &target}

	recvNoEvent(t, p.out, 150*time.Millisecond)
	v := roomView(t, r, "ABC123")
	require.Equal(t, 0, v.State.SlideIndex, "index must never leave range even for a slideless deck")
}

func TestLoadPresentation_BroadcastIncludesLoader(t *testing.T) {
	r := newRelay(t)
	p, c := newMember(), newMember()

	join(r, p, "ABC123", "p1", model.RolePresenter)
	drainEvents(t, p.out, 2)
	join(r, c, "ABC123", "c1", model.RoleController)
	drainEvents(t, p.out, 2)
	drainEvents(t, c.out, 2)

	r.Inbox() <- LoadPresentation{RoomCode: "ABC123", DeviceID: "p1", Presentation: deck(5)}

	for _, m := range []member{p, c} {
		evt := recvEvent(t, m.out, 200*time.Millisecond)
		require.Equal(t, types.EvtPresentationLoaded, evt.Type)
		pl, ok := evt.Data.(types.PresentationLoaded)
		require.True(t, ok)
		require.Len(t, pl.Presentation.Slides, 5)
		require.Equal(t, 0, pl.Presentation.CurrentSlide, "no explicit initial index means slide 0")
	}
}

func TestLateJoiner_CatchesUpAndControls(t *testing.T) {
	r := newRelay(t)
	p := newMember()

	join(r, p, "ABC123", "p1", model.RolePresenter)
	drainEvents(t, p.out, 2)
	r.Inbox() <- LoadPresentation{RoomCode: "ABC123", DeviceID: "p1", Presentation: deck(5)}
	drainEvents(t, p.out, 1)

	c := newMember()
	join(r, c, "ABC123", "c1", model.RoleController)

	joined := recvEvent(t, c.out, 200*time.Millisecond)
	require.Equal(t, types.EvtRoomJoined, joined.Type)
	rj := joined.Data.(types.RoomJoined)
	require.Equal(t, "p1", rj.Devices[0].ID, "late joiner sees the presenter in the roster")

	drainEvents(t, c.out, 1) // devices_updated
	catchup := recvEvent(t, c.out, 200*time.Millisecond)
	require.Equal(t, types.EvtPresentationLoaded, catchup.Type)
	drainEvents(t, p.out, 3) // presenter sees the same three join events

	// Controller drives the deck; both sides converge on the new index.
	target := 3
	r.Inbox() <- SlideChange{RoomCode: "ABC123", DeviceID: "c1", Direction: "goto", Target: &target}

	for _, m := range []member{p, c} {
		evt := recvEvent(t, m.out, 200*time.Millisecond)
		require.Equal(t, types.EvtSlideChanged, evt.Type)
		require.Equal(t, types.SlideChanged{SlideNumber: 3}, evt.Data)
	}
}

func TestSlideChange_ClampsToDeck(t *testing.T) {
	r := newRelay(t)
	p := newMember()

	join(r, p, "ABC123", "p1", model.RolePresenter)
	drainEvents(t, p.out, 2)
	r.Inbox() <- LoadPresentation{RoomCode: "ABC123", DeviceID: "p1", Presentation: deck(5)}
	drainEvents(t, p.out, 1)

	target := 99
	r.Inbox() <- SlideChange{RoomCode: "ABC123", DeviceID: "p1", Direction: "goto", Target: &target}
	evt := recvEvent(t, p.out, 200*time.Millisecond)
	require.Equal(t, types.SlideChanged{SlideNumber: 4}, evt.Data, "overshoot clamps to last slide")

	r.Inbox() <- SlideChange{RoomCode: "ABC123", DeviceID: "p1", Direction: "next"}
	evt = recvEvent(t, p.out, 200*time.Millisecond)
	require.Equal(t, types.SlideChanged{SlideNumber: 4}, evt.Data, "next at the end saturates")

	for i := 0; i < 6; i++ {
		r.Inbox() <- SlideChange{RoomCode: "ABC123", DeviceID: "p1", Direction: "prev"}
		evt = recvEvent(t, p.out, 200*time.Millisecond)
	}
	require.Equal(t, types.SlideChanged{SlideNumber: 0}, evt.Data, "prev at the start saturates")
}

func TestDisconnect_RemovesFromAllRooms(t *testing.T) {
	r := newRelay(t)
	shared, pa, pb := newMember(), newMember(), newMember()

	join(r, pa, "ROOMAA", "pa", model.RolePresenter)
	drainEvents(t, pa.out, 2)
	join(r, pb, "ROOMBB", "pb", model.RolePresenter)
	drainEvents(t, pb.out, 2)

	join(r, shared, "ROOMAA", "shared", model.RoleController)
	drainEvents(t, shared.out, 2)
	drainEvents(t, pa.out, 2)
	join(r, shared, "ROOMBB", "shared", model.RoleController)
	drainEvents(t, shared.out, 2)
	drainEvents(t, pb.out, 2)

	r.Inbox() <- ConnClosed{Conn: shared.conn}

	for name, m := range map[string]member{"ROOMAA": pa, "ROOMBB": pb} {
		evt := recvEvent(t, m.out, 200*time.Millisecond)
		require.Equal(t, types.EvtDevicesUpdated, evt.Type)
		roster := evt.Data.([]model.Device)
		require.Len(t, roster, 1, "room %s should only hold its presenter", name)
		require.NotEqual(t, "shared", roster[0].ID)
	}

	require.Len(t, roomView(t, r, "ROOMAA").Devices, 1)
	require.Len(t, roomView(t, r, "ROOMBB").Devices, 1)
}

func TestDisconnect_LastMemberDropsRoomAndState(t *testing.T) {
	r := newRelay(t)
	p := newMember()

	join(r, p, "ABC123", "p1", model.RolePresenter)
	drainEvents(t, p.out, 2)
	r.Inbox() <- LoadPresentation{RoomCode: "ABC123", DeviceID: "p1", Presentation: deck(5)}
	drainEvents(t, p.out, 1)

	r.Inbox() <- ConnClosed{Conn: p.conn}

	v := roomView(t, r, "ABC123")
	require.False(t, v.Exists)
	require.Empty(t, v.Devices)
	require.Nil(t, v.State.Presentation)
}

func TestDisconnect_AnonymousConnectionIsNoop(t *testing.T) {
	r := newRelay(t)
	p := newMember()

	join(r, p, "ABC123", "p1", model.RolePresenter)
	drainEvents(t, p.out, 2)

	r.Inbox() <- ConnClosed{Conn: uuid.New()}

	recvNoEvent(t, p.out, 100*time.Millisecond)
	require.Len(t, roomView(t, r, "ABC123").Devices, 1)
}

func TestReconnect_NewConnectionSupersedesOld(t *testing.T) {
	r := newRelay(t)
	old := newMember()

	join(r, old, "ABC123", "p1", model.RolePresenter)
	drainEvents(t, old.out, 2)

	// Same device id, fresh connection.
	fresh := member{conn: uuid.New(), out: make(chan types.ServerMessage, 16)}
	join(r, fresh, "ABC123", "p1", model.RolePresenter)
	drainEvents(t, fresh.out, 2)

	// The old transport finally signals loss; bookkeeping for it is
	// gone, so the device must stay in the room.
	r.Inbox() <- ConnClosed{Conn: old.conn}

	v := roomView(t, r, "ABC123")
	require.True(t, v.Exists)
	require.Len(t, v.Devices, 1)
	require.Equal(t, fresh.conn, v.Devices[0].Conn)

	// Events keep flowing to the fresh connection.
	r.Inbox() <- LoadPresentation{RoomCode: "ABC123", DeviceID: "p1", Presentation: deck(2)}
	evt := recvEvent(t, fresh.out, 200*time.Millisecond)
	require.Equal(t, types.EvtPresentationLoaded, evt.Type)
}

func TestSweep_DropsOrphanedState(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(ctx, Options{Clock: fc, SweepInterval: time.Minute})

	// State loaded into a room nobody is a member of.
	r.Inbox() <- LoadPresentation{RoomCode: "GHOST1", DeviceID: "p1", Presentation: deck(2)}
	require.Eventually(t, func() bool {
		return roomView(t, r, "GHOST1").State.Presentation != nil
	}, time.Second, 10*time.Millisecond)

	fc.BlockUntil(1)
	fc.Advance(2 * time.Minute)

	require.Eventually(t, func() bool {
		return roomView(t, r, "GHOST1").State.Presentation == nil
	}, time.Second, 10*time.Millisecond)
}

func TestJoinedAt_ComesFromInjectedClock(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(ctx, Options{Clock: fc})

	p := newMember()
	join(r, p, "ABC123", "p1", model.RolePresenter)
	joined := recvEvent(t, p.out, 200*time.Millisecond)
	rj := joined.Data.(types.RoomJoined)
	require.True(t, rj.Devices[0].ConnectedAt.Equal(fc.Now()))
}
