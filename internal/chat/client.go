package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/middleware"
	"roomchat/internal/router"
	"roomchat/internal/types"
)

const (
	pingPeriod   = 10 * time.Second
	pongWait     = 60 * time.Second
	writeTimeout = 5 * time.Second
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
)

// Dispatcher is the set of intents a client can issue.
type Dispatcher interface {
	Connect() string
	Disconnect(connID string)
	CreateRoom(connID string, req types.CreateRoomRequest) error
	JoinRoom(connID string, req types.JoinRoomRequest) error
	LeaveRoom(connID string) error
	SendMessage(connID string, req types.SendMessageRequest) error
	SendPrivateMessage(connID string, req types.SendPrivateMessageRequest) error
	Typing(connID string) error
	Recipients(connID string) error
}

type Client struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Hub     *Hub
	Limiter *middleware.RateLimiter
	// TypingLimiter meters typing frames apart from everything else.
	TypingLimiter *middleware.RateLimiter

	dispatch Dispatcher
	logger   *slog.Logger

	readLimit int64
	done      chan struct{}
	once      sync.Once
	evicting  atomic.Bool
}

// enqueue reports false only when the send buffer is full. Frames for a
// closed client are dropped.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

func (c *Client) reply(ev types.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("encode reply", slog.Any("err", err))
		return
	}
	if !c.enqueue(payload) {
		c.Hub.evict(c)
	}
}

// WritePump writes one event per text frame and keeps the socket alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ReadPump owns every router call for this connection, including the final
// Disconnect.
func (c *Client) ReadPump() {
	defer func() {
		c.close()
		c.dispatch.Disconnect(c.ID)
		c.Hub.detach(c)
	}()

	c.Conn.SetReadLimit(c.readLimit)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected close", slog.String("conn", c.ID), slog.Any("err", err))
			}
			return
		}

		frame, err := decodeFrame(message)
		if err == nil && frame.Event == types.EventTyping {
			// Excess typing frames are dropped without a warning.
			if !c.TypingLimiter.Allow() {
				continue
			}
		} else if !c.Limiter.Allow() {
			if c.Limiter.ShouldWarn() {
				c.reply(types.NewError("rate limit exceeded"))
			}
			continue
		}
		if err == nil {
			err = c.handle(frame)
		}
		if err != nil {
			c.logger.Debug("request rejected",
				slog.String("conn", c.ID),
				slog.String("kind", router.KindOf(err).String()),
				slog.Any("err", err),
			)
			c.reply(types.NewError(describe(err)))
		}
	}
}

func decodeFrame(message []byte) (types.Frame, error) {
	var frame types.Frame
	if err := json.Unmarshal(message, &frame); err != nil || frame.Event == "" {
		return types.Frame{}, ErrMalformedFrame
	}
	return frame, nil
}

func (c *Client) handle(frame types.Frame) error {
	switch frame.Event {
	case types.EventCreateRoom:
		var req types.CreateRoomRequest
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		return c.dispatch.CreateRoom(c.ID, req)

	case types.EventJoinRoom:
		var req types.JoinRoomRequest
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		return c.dispatch.JoinRoom(c.ID, req)

	case types.EventLeaveRoom:
		return c.dispatch.LeaveRoom(c.ID)

	case types.EventSendMessage:
		var req types.SendMessageRequest
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		return c.dispatch.SendMessage(c.ID, req)

	case types.EventSendPrivateMessage:
		var req types.SendPrivateMessageRequest
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		return c.dispatch.SendPrivateMessage(c.ID, req)

	case types.EventTyping:
		return c.dispatch.Typing(c.ID)

	case types.EventGetRecipients:
		return c.dispatch.Recipients(c.ID)

	case types.EventPing:
		c.reply(types.Event{Name: types.EventPong, Data: struct{}{}})
		return nil

	default:
		return fmt.Errorf("%w %q", ErrUnknownEvent, frame.Event)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrMalformedFrame
	}
	return nil
}

// describe picks the text the requester sees for err.
func describe(err error) string {
	var rerr *router.Error
	switch {
	case errors.As(err, &rerr):
		return rerr.Message
	case errors.Is(err, ErrMalformedFrame), errors.Is(err, ErrUnknownEvent):
		return err.Error()
	default:
		return "internal error"
	}
}
