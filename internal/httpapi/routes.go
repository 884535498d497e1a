package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/slidecast/backend/internal/relay"
	"github.com/slidecast/backend/internal/ws"
)

func SetupRoutes(rel *relay.Relay, outboxBuffer int, originPatterns []string) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", CreateRoom(rel))
	r.Get("/rooms/{code}", GetRoom(rel))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(rel, outboxBuffer, originPatterns))
	return r
}
