package types

import (
	"encoding/json"

	"github.com/slidecast/backend/internal/model"
)

// Client -> Server envelope. Data varies by Type:
//
// join_room:
//   deviceType: "presenter" | "controller"
//   deviceName: string
//
// slide_change:
//   slideNumber: number   (absolute target, used with direction "goto")
//   direction: "next" | "prev" | "goto"
//
// load_presentation:
//   presentation: Presentation
type ClientMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	DeviceID  string          `json:"deviceId"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	MsgJoinRoom         = "join_room"
	MsgSlideChange      = "slide_change"
	MsgLoadPresentation = "load_presentation"
)

type JoinData struct {
	DeviceType string `json:"deviceType,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

type SlideChangeData struct {
	SlideNumber *int   `json:"slideNumber,omitempty"`
	Direction   string `json:"direction,omitempty"`
}

type LoadPresentationData struct {
	Presentation model.Presentation `json:"presentation"`
}

// Server -> Client. Data shapes:
//
// room_joined:         { roomId, devices[] }
// devices_updated:     devices[]            (bare array, not enveloped)
// slide_changed:       { slideNumber }
// presentation_loaded: { presentation }     (currentSlide carries the
//                                            authoritative index)
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	EvtRoomJoined         = "room_joined"
	EvtDevicesUpdated     = "devices_updated"
	EvtSlideChanged       = "slide_changed"
	EvtPresentationLoaded = "presentation_loaded"
)

type RoomJoined struct {
	RoomID  string         `json:"roomId"`
	Devices []model.Device `json:"devices"`
}

type SlideChanged struct {
	SlideNumber int `json:"slideNumber"`
}

type PresentationLoaded struct {
	Presentation model.Presentation `json:"presentation"`
}
