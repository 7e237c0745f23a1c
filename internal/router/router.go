// Package router applies client intents against the connection registry, the
// room store and the typing tracker, and decides who hears about the result.
//
// Calls for a single connection must be serialized by the caller; the
// gateway guarantees this by handling each socket from one read loop.
// Calls for different connections may run concurrently.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"roomchat/internal/presence"
	"roomchat/internal/registry"
	"roomchat/internal/rooms"
	"roomchat/internal/types"
)

// Deliverer queues an event for one connection. It must never block; a
// failed delivery affects only that recipient.
type Deliverer interface {
	Deliver(connID string, ev types.Event)
}

// Archiver receives every stored room message. It must never block.
type Archiver interface {
	Record(msg rooms.Message)
}

type Router struct {
	registry *registry.Registry
	rooms    *rooms.Store
	typing   *presence.Tracker
	out      Deliverer
	archive  Archiver
	logger   *slog.Logger
}

type Option func(*Router)

func WithArchive(a Archiver) Option {
	return func(r *Router) { r.archive = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

func New(reg *registry.Registry, store *rooms.Store, out Deliverer, typingTimeout time.Duration, opts ...Option) *Router {
	r := &Router{
		registry: reg,
		rooms:    store,
		out:      out,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.typing = presence.NewTracker(typingTimeout, r.typingExpired)
	return r
}

// Close stops pending typing timers.
func (r *Router) Close() {
	r.typing.Stop()
}

// Connect registers a new connection and returns its id.
func (r *Router) Connect() string {
	id := r.registry.Register()
	r.logger.Debug("connection registered", slog.String("conn", id))
	return id
}

// Disconnect cascades: leave the current room, drop typing state, forget the
// connection. Unknown ids are ignored.
func (r *Router) Disconnect(connID string) {
	conn, ok := r.registry.Get(connID)
	if !ok {
		return
	}
	if conn.RoomID != "" {
		r.rooms.Leave(conn.RoomID, connID)
	}
	r.typing.CancelConnection(connID)
	gone, ok := r.registry.Unregister(connID)
	if !ok {
		return
	}

	r.logger.Info("connection closed",
		slog.String("conn", connID),
		slog.String("username", gone.Username),
		slog.String("room", conn.RoomID),
		slog.Duration("session", time.Since(gone.ConnectedAt)),
	)
	if gone.Username != "" {
		r.pushDirectory()
	}
}

func (r *Router) CreateRoom(connID string, req types.CreateRoomRequest) error {
	conn, ok := r.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if strings.TrimSpace(req.Name) == "" {
		return ErrRoomNameRequired
	}
	name, err := rooms.ValidateName(req.Name)
	if err != nil {
		return validationError(err)
	}
	var username string
	if strings.TrimSpace(req.Username) != "" {
		if username, err = registry.ValidateUsername(req.Username); err != nil {
			return validationError(err)
		}
	}

	snap, err := r.rooms.CreateRoom(name, connID, conn.RoomID, func(s rooms.Snapshot) {
		r.out.Deliver(connID, types.Event{
			Name: types.EventRoomCreated,
			Data: types.RoomCreated{RoomID: s.RoomID, RoomName: s.Name},
		})
	})
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNameTaken) {
			return validationError(err)
		}
		return fmt.Errorf("create room: %w", err)
	}

	r.moved(conn, snap.RoomID)
	r.logger.Info("room created",
		slog.String("room", snap.RoomID),
		slog.String("name", snap.Name),
		slog.String("conn", connID),
	)
	if username != "" {
		r.bindUsername(connID, username)
	}
	return nil
}

func (r *Router) JoinRoom(connID string, req types.JoinRoomRequest) error {
	conn, ok := r.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if strings.TrimSpace(req.Username) == "" {
		return ErrUsernameRequired
	}
	username, err := registry.ValidateUsername(req.Username)
	if err != nil {
		return validationError(err)
	}

	var target rooms.Info
	if id := strings.TrimSpace(req.RoomID); id != "" {
		if target, ok = r.rooms.Get(id); !ok {
			return notFoundf("room %q not found", id)
		}
	} else {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			return ErrRoomNameRequired
		}
		if target, ok = r.rooms.Lookup(name); !ok {
			return notFoundf("room %q not found", name)
		}
	}

	snap, err := r.rooms.Join(target.ID, connID, conn.RoomID, func(s rooms.Snapshot) {
		history := make([]types.ChatMessage, 0, len(s.Messages))
		for _, m := range s.Messages {
			history = append(history, chatMessage(m))
		}
		r.out.Deliver(connID, types.Event{
			Name: types.EventJoinedRoom,
			Data: types.JoinedRoom{RoomID: s.RoomID, RoomName: s.Name, Messages: history},
		})
	})
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			return notFoundf("room %q not found", target.Name)
		}
		return fmt.Errorf("join room: %w", err)
	}

	r.moved(conn, snap.RoomID)
	r.logger.Info("room joined",
		slog.String("room", snap.RoomID),
		slog.String("conn", connID),
		slog.String("username", username),
		slog.Int("history", len(snap.Messages)),
	)
	r.bindUsername(connID, username)
	return nil
}

func (r *Router) LeaveRoom(connID string) error {
	conn, ok := r.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if conn.RoomID == "" {
		return ErrNotInRoom
	}

	r.rooms.Leave(conn.RoomID, connID)
	r.typing.Cancel(presence.Key{RoomID: conn.RoomID, ConnectionID: connID})
	r.registry.ClearRoom(connID, conn.RoomID)

	r.out.Deliver(connID, types.Event{Name: types.EventLeftRoom, Data: types.LeftRoom{RoomID: conn.RoomID}})
	r.logger.Info("room left", slog.String("room", conn.RoomID), slog.String("conn", connID))
	return nil
}

func (r *Router) SendMessage(connID string, req types.SendMessageRequest) error {
	conn, ok := r.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if conn.RoomID == "" {
		return ErrNotInRoom
	}
	if id := strings.TrimSpace(req.RoomID); id != "" && id != conn.RoomID {
		return &Error{Kind: KindState, Message: fmt.Sprintf("not a member of room %q", id)}
	}
	if err := rooms.ValidateBody(req.Message); err != nil {
		return validationError(err)
	}

	sender, bind := conn.Username, false
	if sender == "" {
		if strings.TrimSpace(req.Sender) == "" {
			return ErrUsernameRequired
		}
		name, err := registry.ValidateUsername(req.Sender)
		if err != nil {
			return validationError(err)
		}
		sender, bind = name, true
	}

	msg, err := r.rooms.Append(conn.RoomID, connID, sender, req.Message, func(m rooms.Message, members []string) {
		ev := types.Event{Name: types.EventNewMessage, Data: chatMessage(m)}
		for _, member := range members {
			r.out.Deliver(member, ev)
		}
	})
	if err != nil {
		switch {
		case errors.Is(err, rooms.ErrRoomNotFound), errors.Is(err, rooms.ErrNotMember):
			return ErrNotInRoom
		default:
			return fmt.Errorf("append message: %w", err)
		}
	}

	r.typing.Cancel(presence.Key{RoomID: conn.RoomID, ConnectionID: connID})
	if bind {
		r.bindUsername(connID, sender)
	}
	if r.archive != nil {
		r.archive.Record(msg)
	}
	r.logger.Debug("message appended",
		slog.String("room", msg.RoomID),
		slog.Int64("seq", msg.Seq),
		slog.String("sender", msg.Sender),
	)
	return nil
}

// Typing records a typing signal and forwards it to the other room members.
// Signals from a connection without a username are accepted and ignored:
// there is no name to show.
func (r *Router) Typing(connID string) error {
	conn, ok := r.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if conn.RoomID == "" {
		return ErrNotInRoom
	}
	if conn.Username == "" {
		return nil
	}

	members, err := r.rooms.Members(conn.RoomID)
	if err != nil {
		return ErrNotInRoom
	}
	if r.typing.Touch(presence.Key{RoomID: conn.RoomID, ConnectionID: connID}) {
		r.logger.Debug("typing started", slog.String("room", conn.RoomID), slog.String("conn", connID))
	}

	ev := types.Event{Name: types.EventTyping, Data: types.Typing{RoomID: conn.RoomID, Sender: conn.Username}}
	for _, member := range members {
		if member != connID {
			r.out.Deliver(member, ev)
		}
	}
	return nil
}

// SendPrivateMessage delivers body to the recipient connection(s) only. It is
// never stored. An unknown recipient is reported to the sender.
func (r *Router) SendPrivateMessage(connID string, req types.SendPrivateMessageRequest) error {
	conn, ok := r.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if err := rooms.ValidateBody(req.Message); err != nil {
		return validationError(err)
	}
	if conn.Username == "" {
		return ErrUsernameRequired
	}

	var targets []string
	if id := strings.TrimSpace(req.RecipientID); id != "" {
		rc, ok := r.registry.Get(id)
		if !ok || rc.Username == "" {
			return notFoundf("recipient %q not found", id)
		}
		targets = []string{id}
	} else {
		name := strings.TrimSpace(req.RecipientUsername)
		if name == "" {
			return ErrRecipientRequired
		}
		targets = r.registry.FindByUsername(name)
		if len(targets) == 0 {
			return notFoundf("recipient %q not found", name)
		}
	}

	ev := types.Event{
		Name: types.EventPrivateMessage,
		Data: types.PrivateMessage{From: conn.Username, FromID: connID, Message: req.Message},
	}
	for _, id := range targets {
		r.out.Deliver(id, ev)
	}
	r.logger.Debug("private message delivered",
		slog.String("from", connID),
		slog.Int("recipients", len(targets)),
	)
	return nil
}

// Recipients sends the private-chat directory to connID.
func (r *Router) Recipients(connID string) error {
	if _, ok := r.registry.Get(connID); !ok {
		return ErrUnknownConnection
	}
	r.out.Deliver(connID, recipientsEvent(r.registry.ListUsernames(connID)))
	return nil
}

func (r *Router) typingExpired(key presence.Key) {
	conn, ok := r.registry.Get(key.ConnectionID)
	if !ok || conn.RoomID != key.RoomID || conn.Username == "" {
		return
	}
	members, err := r.rooms.Members(key.RoomID)
	if err != nil {
		return
	}
	ev := types.Event{Name: types.EventStopTyping, Data: types.Typing{RoomID: key.RoomID, Sender: conn.Username}}
	for _, member := range members {
		if member != key.ConnectionID {
			r.out.Deliver(member, ev)
		}
	}
}

// moved points the registry at the new room and drops typing state held in
// the room the connection just left.
func (r *Router) moved(prev registry.Connection, roomID string) {
	if prev.RoomID != "" && prev.RoomID != roomID {
		r.typing.Cancel(presence.Key{RoomID: prev.RoomID, ConnectionID: prev.ID})
	}
	if err := r.registry.SetRoom(prev.ID, roomID); err != nil {
		r.logger.Warn("connection vanished while changing rooms", slog.String("conn", prev.ID), slog.Any("err", err))
	}
}

func (r *Router) bindUsername(connID, username string) {
	changed, err := r.registry.SetUsername(connID, username)
	if err != nil {
		r.logger.Warn("bind username", slog.String("conn", connID), slog.Any("err", err))
		return
	}
	if changed {
		r.pushDirectory()
	}
}

// pushDirectory sends every live connection its own view of the directory.
func (r *Router) pushDirectory() {
	for _, id := range r.registry.IDs() {
		r.out.Deliver(id, recipientsEvent(r.registry.ListUsernames(id)))
	}
}

func recipientsEvent(list []registry.Recipient) types.Event {
	out := make([]types.Recipient, 0, len(list))
	for _, rc := range list {
		out = append(out, types.Recipient{SocketID: rc.ConnectionID, Username: rc.Username})
	}
	return types.Event{Name: types.EventRecipients, Data: out}
}

func chatMessage(m rooms.Message) types.ChatMessage {
	return types.ChatMessage{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Seq:       m.Seq,
		Sender:    m.Sender,
		Message:   m.Body,
		Timestamp: m.Timestamp,
	}
}
