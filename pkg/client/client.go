// Package client is the Go SDK for a relaychat session: it owns the logical
// connection, performs the authentication handshake, reconnects with capped
// exponential backoff, and keeps a local view of presence, typing and room
// messages that is reconciled against server-confirmed events.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/relaychat/relaychat/internal/log"
	"github.com/relaychat/relaychat/pkg/proto"
)

// Status is the session connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusAwaitingAuth
	StatusConnected
	StatusReconnecting
	// StatusLost is terminal: all reconnect attempts were exhausted and a new
	// Connect call is required.
	StatusLost
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusAwaitingAuth:
		return "awaiting_auth"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Conn is one established wire connection.
type Conn interface {
	ReadEvent(ctx context.Context) (proto.Outbound, error)
	WriteEvent(ctx context.Context, in proto.Inbound) error
	Close() error
}

// Dialer establishes wire connections. The default dials a WebSocket.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// Options configures a Session.
type Options struct {
	URL   string
	Token string

	Dialer Dialer
	Logger *zerolog.Logger

	// Handler, if set, observes every inbound event after the session has
	// applied it to its local state.
	Handler func(proto.Outbound)

	BackoffBase time.Duration // default 1s
	BackoffCap  time.Duration // default 30s
	MaxAttempts int           // default 5

	// ConfirmTimeout bounds how long an optimistic message may stay
	// unconfirmed before it is marked failed. Default 10s.
	ConfirmTimeout time.Duration
	// TypingIdle is the inactivity window after which stop-typing is sent.
	// Default 2s.
	TypingIdle time.Duration

	// WriteTimeout bounds individual wire writes. Default 5s.
	WriteTimeout time.Duration
}

// Backoff returns the reconnect delay for the given 0-based attempt:
// base·2^attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// Session is one logical relaychat connection with its local state.
type Session struct {
	opts  Options
	log   *zerolog.Logger
	state *State

	mu             sync.Mutex
	status         Status
	conn           Conn
	connCancel     context.CancelFunc
	gen            int
	attempts       int
	intentional    bool
	reconnectTimer *time.Timer
	activeRoom     string
	selfID         string
	selfName       string

	typingActive bool
	typingTimer  *time.Timer
}

// New constructs a session. It does not connect.
func New(opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 10 * time.Second
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = 2 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Session{
		opts:  opts,
		log:   opts.Logger,
		state: NewState(),
	}
}

// State returns the session's local view.
func (s *Session) State() *State { return s.state }

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Self returns the authenticated identity, once connected.
func (s *Session) Self() (userID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID, s.selfName
}

// Connect starts the session. No-op when already connecting or connected.
func (s *Session) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusConnecting, StatusAwaitingAuth, StatusConnected:
		return
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.intentional = false
	s.attempts = 0
	s.dialLocked()
}

// Disconnect closes the session intentionally, suppressing auto-reconnect
// and clearing local presence state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.intentional = true
	s.status = StatusDisconnected
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.stopTypingTimerLocked()
	s.typingActive = false
	conn := s.conn
	cancel := s.connCancel
	s.conn = nil
	s.connCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	s.state.ClearPresence()
}

// dialLocked starts a new connection attempt. Caller holds s.mu.
func (s *Session) dialLocked() {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.connCancel = cancel
	s.status = StatusConnecting
	go s.run(ctx, gen)
}

func (s *Session) run(ctx context.Context, gen int) {
	conn, err := s.opts.Dialer.DialContext(ctx, s.opts.URL)
	if err != nil {
		s.log.Warn().Err(err).Msg("dial failed")
		s.handleClose(gen)
		return
	}

	s.mu.Lock()
	if gen != s.gen || ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.status = StatusAwaitingAuth
	// A successful open resets the backoff.
	s.attempts = 0
	s.mu.Unlock()

	in, err := proto.NewInbound(proto.TypeAuthenticate, proto.AuthenticatePayload{Token: s.opts.Token})
	if err == nil {
		err = conn.WriteEvent(ctx, in)
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("authenticate send failed")
		conn.Close()
		s.handleClose(gen)
		return
	}

	for {
		ev, rerr := conn.ReadEvent(ctx)
		if rerr != nil {
			break
		}
		s.dispatch(ev)
	}
	conn.Close()
	s.handleClose(gen)
}

func (s *Session) handleClose(gen int) {
	s.mu.Lock()
	if gen != s.gen {
		// superseded by a newer connection attempt
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.stopTypingTimerLocked()
	s.typingActive = false

	if s.intentional {
		s.status = StatusDisconnected
		s.mu.Unlock()
		return
	}

	if s.attempts >= s.opts.MaxAttempts {
		s.status = StatusLost
		s.mu.Unlock()
		s.log.Error().Msg("connection lost, all reconnect attempts exhausted")
		return
	}

	s.status = StatusReconnecting
	delay := Backoff(s.attempts, s.opts.BackoffBase, s.opts.BackoffCap)
	s.attempts++
	attempt := s.attempts
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.intentional || s.status != StatusReconnecting {
			return
		}
		s.dialLocked()
	})
	s.mu.Unlock()
	s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
}

// send marshals and writes an event. A no-op with a warning when the session
// is not connected.
func (s *Session) send(typ string, payload any) {
	s.mu.Lock()
	conn := s.conn
	status := s.status
	s.mu.Unlock()

	if status != StatusConnected || conn == nil {
		s.log.Warn().Str("type", typ).Msg("cannot send, session not connected")
		return
	}

	in, err := proto.NewInbound(typ, payload)
	if err != nil {
		s.log.Error().Err(err).Str("type", typ).Msg("marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	if err := conn.WriteEvent(ctx, in); err != nil {
		s.log.Warn().Err(err).Str("type", typ).Msg("write event")
	}
}

// SetActiveRoom switches the room the user is viewing: it leaves the
// previous room (flushing a pending stop-typing first) and joins the new
// one. The active room is re-joined automatically after a reconnect.
// An empty id leaves the current room without joining another.
func (s *Session) SetActiveRoom(roomID string) {
	s.mu.Lock()
	prev := s.activeRoom
	if prev == roomID {
		s.mu.Unlock()
		return
	}
	s.activeRoom = roomID
	flushTyping := s.typingActive && prev != ""
	s.typingActive = false
	s.stopTypingTimerLocked()
	s.mu.Unlock()

	if flushTyping {
		s.send(proto.TypeStopTyping, proto.TypingPayload{RoomID: prev})
	}
	if prev != "" {
		s.send(proto.TypeLeaveRoom, proto.LeaveRoomPayload{RoomID: prev})
	}
	if roomID != "" {
		s.send(proto.TypeJoinRoom, proto.JoinRoomPayload{RoomID: roomID})
	}
}

// ActiveRoom returns the currently viewed room id, if any.
func (s *Session) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoom
}

// SendMessage synthesizes a provisional message in the local view, transmits
// the send event carrying the same correlation token, and returns the token.
// The provisional entry is marked failed if no confirmation arrives within
// the confirm timeout.
func (s *Session) SendMessage(roomID, content, imageURL string) string {
	tempID := uuid.NewString()

	s.mu.Lock()
	senderID, senderName := s.selfID, s.selfName
	s.mu.Unlock()

	s.state.AddOptimistic(Message{
		TempID:         tempID,
		RoomID:         roomID,
		SenderID:       senderID,
		SenderUsername: senderName,
		Content:        content,
		ImageURL:       imageURL,
		CreatedAt:      time.Now(),
	})
	time.AfterFunc(s.opts.ConfirmTimeout, func() {
		if s.state.MarkFailed(tempID) {
			s.log.Warn().Str("temp_id", tempID).Msg("message never confirmed, marked failed")
		}
	})

	s.send(proto.TypeSendMessage, proto.SendMessagePayload{
		RoomID:   roomID,
		Content:  content,
		ImageURL: imageURL,
		TempID:   tempID,
	})

	s.mu.Lock()
	active := s.activeRoom == roomID
	s.mu.Unlock()
	if active {
		s.InputCleared()
	}
	return tempID
}
