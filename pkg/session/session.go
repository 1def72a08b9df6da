// Package session runs the per-connection event loop: it decodes inbound
// events, authenticates them, and hands them to the relay engine. A session
// also implements presence.Session so the engine can push frames back.
package session

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ghhufue/chatrelay/pkg/auth"
	"github.com/ghhufue/chatrelay/pkg/logger"
	"github.com/ghhufue/chatrelay/pkg/models"
	"github.com/ghhufue/chatrelay/pkg/presence"
	"github.com/ghhufue/chatrelay/pkg/relay"
	"github.com/ghhufue/chatrelay/pkg/telemetry"
)

// Conn is the subset of *websocket.Conn the session needs. Tests substitute
// a scripted implementation.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// Limits bounds how fast a single connection may submit events.
type Limits struct {
	RPS   float64
	Burst int
}

// DefaultLimits allows short bursts while keeping a sustained flood out.
var DefaultLimits = Limits{RPS: 20, Burst: 40}

// Session is one live connection. It starts unauthenticated; the first
// event carrying a valid token binds it to a principal, and a connect
// event additionally registers it for presence.
type Session struct {
	conn      Conn
	registry  *presence.Registry
	directory *auth.Directory
	engine    *relay.Engine
	friends   *relay.Friends
	limiter   *rate.Limiter

	writeMu sync.Mutex

	principalID int64
	authed      bool
	registered  bool
}

func New(conn Conn, registry *presence.Registry, directory *auth.Directory, engine *relay.Engine, friends *relay.Friends, limits Limits) *Session {
	if limits.RPS <= 0 {
		limits = DefaultLimits
	}
	return &Session{
		conn:      conn,
		registry:  registry,
		directory: directory,
		engine:    engine,
		friends:   friends,
		limiter:   rate.NewLimiter(rate.Limit(limits.RPS), limits.Burst),
	}
}

// Send pushes a frame to the peer. Safe for concurrent use; the relay
// engine calls this from whichever goroutine delivers the message.
func (s *Session) Send(frame any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

// Run reads events until the connection drops, then cleans up presence
// state. It blocks; callers run it in the connection's goroutine.
func (s *Session) Run(ctx context.Context) {
	defer s.close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if !s.limiter.Allow() {
			s.sendError("rate_limited", "too many events")
			continue
		}
		ev, err := models.DecodeEvent(data)
		if err != nil {
			s.sendError("bad_event", err.Error())
			continue
		}
		s.handle(ctx, ev)
	}
}

func (s *Session) handle(ctx context.Context, ev models.Event) {
	id, err := s.identify(ev.EventToken())
	if err != nil {
		s.sendError("unauthorized", "invalid token")
		return
	}

	switch e := ev.(type) {
	case models.ConnectEvent:
		s.register(id)
	case models.SendMessageEvent:
		err = s.engine.Submit(ctx, id, e.ReceiverID, e.Content, e.MessageType, e.History)
	case models.SendFriendRequestEvent:
		err = s.friends.Request(id, e.ReceiverID, e.Description)
	case models.ReadMessageEvent:
		_, err = s.engine.MarkRead(id, e.SenderID)
	default:
		s.sendError("bad_event", "unsupported event")
		return
	}
	if err != nil {
		s.sendError(errorCode(err), err.Error())
	}
}

// identify resolves the session's principal. The id is cached after the
// first valid token; a bad token on a later event does not evict it.
func (s *Session) identify(token string) (int64, error) {
	if s.authed {
		return s.principalID, nil
	}
	id, err := s.directory.Authenticate(token)
	if err != nil {
		return 0, err
	}
	s.principalID = id
	s.authed = true
	return id, nil
}

// register announces this session as the principal's live one. Repeat
// connects re-register, so a session superseded by a newer login can
// re-claim presence; registration is last-wins.
func (s *Session) register(id int64) {
	s.registry.Register(id, s)
	if !s.registered {
		s.registered = true
		logger.Info("session_online", "principal", id)
	}
	telemetry.SessionsOnline.Set(float64(s.registry.Count()))
}

func (s *Session) close() {
	if s.registered {
		// only evict our own entry; a newer session for the same
		// principal may have replaced us
		s.registry.Unregister(s.principalID, s)
		s.registered = false
		telemetry.SessionsOnline.Set(float64(s.registry.Count()))
		logger.Info("session_offline", "principal", s.principalID)
	}
	_ = s.conn.Close()
}

func (s *Session) sendError(code, msg string) {
	if err := s.Send(models.ErrorFrame{Type: "error", Code: code, Message: msg}); err != nil {
		logger.Warn("error_frame_push_failed", "code", code, "error", err)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, relay.ErrPrincipalNotFound):
		return "principal_not_found"
	case errors.Is(err, relay.ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, relay.ErrPartialRelationshipUpdate):
		return "partial_update"
	case errors.Is(err, relay.ErrNotFound):
		return "not_found"
	case errors.Is(err, auth.ErrInvalidToken):
		return "unauthorized"
	default:
		return "internal"
	}
}
