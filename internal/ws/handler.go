// Package ws binds transport connections to the relay. A connection is
// anonymous until its first join_room; on close or socket error the
// relay is told exactly once, which is what evicts the device from
// every room it was in.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/slidecast/backend/internal/model"
	"github.com/slidecast/backend/internal/relay"
	"github.com/slidecast/backend/pkg/types"
)

const writeTimeout = 3 * time.Second

func Handler(r *relay.Relay, outboxBuffer int, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Warn().Err(err).Msg("websocket accept failed")
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.New()
		outbox := make(chan types.ServerMessage, outboxBuffer)

		// Clean close and socket error both funnel through here, so a
		// dead connection can never leak a room member.
		defer func() { r.Inbox() <- relay.ConnClosed{Conn: connID} }()

		writeCtx, writeCancel := context.WithCancel(req.Context())
		defer writeCancel()
		go writer(writeCtx, conn, outbox)

		for {
			_, data, err := conn.Read(req.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug().Err(err).Str("conn", connID.String()).Msg("connection lost")
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				log.Warn().Err(err).Str("conn", connID.String()).Msg("malformed message, dropping")
				continue
			}

			msg, ok := toRelayMsg(cm, connID, outbox)
			if !ok {
				log.Warn().
					Str("conn", connID.String()).
					Str("type", cm.Type).
					Str("room", cm.RoomID).
					Msg("invalid message, dropping")
				continue
			}
			r.Inbox() <- msg
		}
	}
}

func writer(ctx context.Context, conn *websocket.Conn, outbox <-chan types.ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbox:
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				log.Error().Err(err).Str("type", msg.Type).Msg("marshal outbound event")
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			_ = conn.Write(wctx, websocket.MessageText, payload)
			cancel()
		}
	}
}

// toRelayMsg validates the envelope and maps it onto a relay message.
// Missing roomId/deviceId or an unknown type means drop.
func toRelayMsg(cm types.ClientMessage, connID model.ConnID, outbox chan types.ServerMessage) (relay.Msg, bool) {
	if cm.RoomID == "" || cm.DeviceID == "" {
		return nil, false
	}

	switch cm.Type {
	case types.MsgJoinRoom:
		var d types.JoinData
		if len(cm.Data) > 0 {
			if err := json.Unmarshal(cm.Data, &d); err != nil {
				return nil, false
			}
		}
		return relay.JoinRoom{
			Conn:     connID,
			Outbox:   outbox,
			RoomCode: cm.RoomID,
			DeviceID: cm.DeviceID,
			Role:     model.ParseRole(d.DeviceType),
			Name:     d.DeviceName,
		}, true

	case types.MsgSlideChange:
		var d types.SlideChangeData
		if err := json.Unmarshal(cm.Data, &d); err != nil {
			return nil, false
		}
		return relay.SlideChange{
			RoomCode:  cm.RoomID,
			DeviceID:  cm.DeviceID,
			Direction: d.Direction,
			Target:    d.SlideNumber,
		}, true

	case types.MsgLoadPresentation:
		var d types.LoadPresentationData
		if err := json.Unmarshal(cm.Data, &d); err != nil {
			return nil, false
		}
		return relay.LoadPresentation{
			RoomCode:     cm.RoomID,
			DeviceID:     cm.DeviceID,
			Presentation: d.Presentation,
		}, true

	default:
		return nil, false
	}
}
