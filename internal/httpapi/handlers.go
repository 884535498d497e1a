package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/slidecast/backend/internal/model"
	"github.com/slidecast/backend/internal/relay"
)

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode mints a 6-char [A-Z0-9] room code, the same shape the
// presenter UI generates client-side.
func GenerateCode() (string, error) {
	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}

// roomView asks the relay for a room snapshot, giving up if the relay
// has shut down or the client went away instead of blocking forever.
func roomView(req *http.Request, r *relay.Relay, code string) (relay.RoomView, bool) {
	reply := make(chan relay.RoomView, 1)
	select {
	case r.Inbox() <- relay.GetRoom{RoomCode: code, Reply: reply}:
	case <-r.Done():
		return relay.RoomView{}, false
	case <-req.Context().Done():
		return relay.RoomView{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-r.Done():
		return relay.RoomView{}, false
	case <-req.Context().Done():
		return relay.RoomView{}, false
	}
}

// CreateRoom returns an unused room code. The room itself is only
// created when the first device joins it over the socket.
func CreateRoom(r *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			view, ok := roomView(req, r, c)
			if !ok {
				http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
				return
			}
			if !view.Exists {
				code = c
				break
			}
			log.Debug().Str("code", c).Msg("room code collision, regenerating")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

type roomSnapshot struct {
	RoomID       string              `json:"roomId"`
	Devices      []model.Device      `json:"devices"`
	Presentation *model.Presentation `json:"presentation,omitempty"`
	SlideNumber  int                 `json:"slideNumber"`
}

// GetRoom serves a point-in-time room snapshot so the controller UI
// can validate a typed code before opening the socket.
func GetRoom(r *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		code := chi.URLParam(req, "code")

		view, ok := roomView(req, r, code)
		if !ok {
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}
		if !view.Exists {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(roomSnapshot{
			RoomID:       view.RoomID,
			Devices:      view.Devices,
			Presentation: view.State.Presentation,
			SlideNumber:  view.State.SlideIndex,
		})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
