package types

import "time"

type CreateRoomRequest struct {
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
}

type JoinRoomRequest struct {
	RoomID   string `json:"roomId,omitempty"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username"`
}

type SendMessageRequest struct {
	RoomID  string `json:"roomId,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Message string `json:"message"`
}

type SendPrivateMessageRequest struct {
	RecipientUsername string `json:"recipientUsername,omitempty"`
	RecipientID       string `json:"recipientId,omitempty"`
	Message           string `json:"message"`
}

type RoomCreated struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
}

type JoinedRoom struct {
	RoomID   string        `json:"roomId"`
	RoomName string        `json:"roomName"`
	Messages []ChatMessage `json:"messages"`
}

type LeftRoom struct {
	RoomID string `json:"roomId"`
}

// ChatMessage is both a newMessage payload and an entry of joinedRoom history.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Seq       int64     `json:"seq"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Typing struct {
	RoomID string `json:"roomId"`
	Sender string `json:"sender"`
}

type Recipient struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

type PrivateMessage struct {
	From    string `json:"from"`
	FromID  string `json:"fromId"`
	Message string `json:"message"`
}

type RoomSummary struct {
	RoomID    string    `json:"roomId"`
	RoomName  string    `json:"roomName"`
	Members   int       `json:"members"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}
