package types

import "encoding/json"

type EventName string

// Client to server.
const (
	EventCreateRoom         EventName = "createRoom"
	EventJoinRoom           EventName = "joinRoom"
	EventLeaveRoom          EventName = "leaveRoom"
	EventSendMessage        EventName = "sendMessage"
	EventSendPrivateMessage EventName = "sendPrivateMessage"
	EventTyping             EventName = "typing"
	EventGetRecipients      EventName = "getRecipients"
	EventPing               EventName = "ping"
)

// Server to client. EventTyping is shared by both directions.
const (
	EventRoomCreated    EventName = "roomCreated"
	EventJoinedRoom     EventName = "joinedRoom"
	EventLeftRoom       EventName = "leftRoom"
	EventNewMessage     EventName = "newMessage"
	EventStopTyping     EventName = "stopTyping"
	EventRecipients     EventName = "recipients"
	EventPrivateMessage EventName = "privateMessage"
	EventError          EventName = "error"
	EventPong           EventName = "pong"
)

// Frame is the envelope of every websocket text frame.
type Frame struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame before encoding.
type Event struct {
	Name EventName
	Data any
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event EventName `json:"event"`
		Data  any       `json:"data"`
	}{Event: e.Name, Data: e.Data})
}

func NewError(description string) Event {
	return Event{Name: EventError, Data: description}
}
