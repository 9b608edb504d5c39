// Package session runs one client connection end to end: the handshake,
// then a read loop that dispatches envelopes according to the session's
// current state, paired with a dedicated writer goroutine so a
// router-initiated delivery from another session's goroutine can never
// interleave with this session's own reply on the wire.
package session

import (
	"bufio"
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskline/securechat/chaterr"
	"github.com/duskline/securechat/chatproto"
	"github.com/duskline/securechat/crypto/aead"
	"github.com/duskline/securechat/crypto/handshake"
	"github.com/duskline/securechat/internal/contextutil"
	"github.com/duskline/securechat/observability"
	"github.com/duskline/securechat/registry"
	"github.com/duskline/securechat/router"
	"github.com/duskline/securechat/store"
	"github.com/duskline/securechat/wire"
)

// State is the session's position in its HANDSHAKE -> UNAUTH -> AUTH ->
// CLOSED lifecycle.
type State int

const (
	StateHandshake State = iota
	StateUnauth
	StateAuth
	StateClosed
)

// outboundCap bounds how many router-initiated deliveries can queue for a
// session before Deliver starts blocking its caller.
const outboundCap = 16

// Deps bundles everything a Session needs that is shared across every
// connection, resolving the server<->session cyclic reference: the
// listener constructs one Deps value and passes it to every accepted
// connection, instead of sessions reaching back into a server that tracks
// them.
type Deps struct {
	PrivateKey       *rsa.PrivateKey
	Registry         *registry.Registry
	Router           *router.Router
	Store            store.AccountStore
	MaxLineBytes     int
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	Logger           zerolog.Logger
	Observer         observability.ChatObserver
}

// Session is one accepted connection.
type Session struct {
	conn   net.Conn
	rw     *bufio.ReadWriter
	deps   Deps
	logger zerolog.Logger

	channel *aead.SecureChannel

	mu        sync.Mutex
	state     State
	userID    string
	fullName  string
	loggedOut bool

	outbound  chan wire.Envelope
	writerErr chan error
	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps conn as a Session ready to Run.
func New(conn net.Conn, deps Deps) *Session {
	if deps.Observer == nil {
		deps.Observer = observability.NoopChatObserver
	}
	return &Session{
		conn:      conn,
		rw:        bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		deps:      deps,
		logger:    deps.Logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		state:     StateHandshake,
		outbound:  make(chan wire.Envelope, outboundCap),
		writerErr: make(chan error, 1),
		closed:    make(chan struct{}),
	}
}

// UserID, FullName, IsAuthenticated, Deliver implement registry.SessionHandle.

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) FullName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullName
}

func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAuth
}

// Deliver queues env for the writer goroutine. It is called from another
// session's goroutine (via the router), so it never touches s.rw directly.
func (s *Session) Deliver(ctx context.Context, env wire.Envelope) error {
	select {
	case s.outbound <- env:
		return nil
	case <-s.closed:
		return chaterr.Wrap(chaterr.StageTransport, chaterr.CodeEOF, nil)
	case <-ctx.Done():
		return chaterr.Wrap(chaterr.StageTransport, chaterr.ClassifyTransport(ctx.Err()), ctx.Err())
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run performs the handshake, then the read/dispatch loop, and always
// unregisters and closes the connection on return. It recovers from a
// panic in message handling so one malformed request cannot take down the
// accept loop's goroutine pool.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("session handler panicked")
			err = fmt.Errorf("session: recovered panic: %v", r)
		}
		s.cleanup()
	}()

	handshakeStart := time.Now()
	hctx, cancel := contextutil.WithTimeout(ctx, s.deps.HandshakeTimeout)
	defer cancel()
	if deadline, ok := hctx.Deadline(); ok {
		_ = s.conn.SetDeadline(deadline)
		defer s.conn.SetDeadline(time.Time{})
	}
	channel, err := handshake.ServerHandshake(hctx, s.rw, s.deps.PrivateKey, handshake.Options{MaxLineBytes: s.deps.MaxLineBytes})
	if err != nil {
		s.deps.Observer.Handshake(observability.HandshakeResultFailed, time.Since(handshakeStart))
		s.logger.Debug().Err(err).Msg("handshake failed")
		return err
	}
	s.deps.Observer.Handshake(observability.HandshakeResultOK, time.Since(handshakeStart))
	s.channel = channel
	s.setState(StateUnauth)

	go s.writeLoop()

	return s.readLoop(ctx)
}

func (s *Session) cleanup() {
	s.mu.Lock()
	userID, st := s.userID, s.state
	s.state = StateClosed
	s.mu.Unlock()

	if st == StateAuth && userID != "" {
		s.deps.Registry.Unregister(userID, s)
	}
	s.closeOnce.Do(func() { close(s.closed) })
	s.conn.Close()

	reason := observability.CloseReasonClientClosed
	if s.loggedOut {
		reason = observability.CloseReasonLogout
	}
	s.deps.Observer.Close(reason)
}

// writeLoop is the session's single writer: it serializes the session's
// own replies with router-initiated deliveries so two goroutines never
// encrypt-and-write at the same time.
func (s *Session) writeLoop() {
	for {
		select {
		case env := <-s.outbound:
			if err := s.sendEncrypted(env); err != nil {
				s.writerErr <- err
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Session) sendEncrypted(env wire.Envelope) error {
	inner, err := wire.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	blob, err := s.channel.Encrypt(inner)
	if err != nil {
		return err
	}
	outer := wire.EncryptedEnvelope{Type: chatproto.TypeEncryptedPayload, Payload: blob}
	b, err := wire.EncodeEncrypted(outer)
	if err != nil {
		return err
	}
	return wire.WriteLine(s.rw.Writer, b)
}

// reply is a convenience for handlers: it queues env the same way Deliver
// does, so a handler's own reply and an incoming router delivery are
// ordered by the same channel.
func (s *Session) reply(env wire.Envelope) error {
	select {
	case s.outbound <- env:
		return nil
	case <-s.closed:
		return chaterr.Wrap(chaterr.StageTransport, chaterr.CodeEOF, nil)
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		select {
		case werr := <-s.writerErr:
			return werr
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.deps.IdleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.deps.IdleTimeout))
		}

		line, err := wire.ReadLine(s.rw.Reader, s.deps.MaxLineBytes)
		if err != nil {
			return err
		}

		encEnv, err := wire.DecodeEncrypted(line)
		if err != nil {
			return err
		}
		if encEnv.Type != chatproto.TypeEncryptedPayload {
			return chaterr.Wrap(chaterr.StageProtocol, chaterr.CodeUnexpectedEnvelope, nil)
		}
		plaintext, err := s.channel.Decrypt(encEnv.Payload)
		if err != nil {
			return err
		}
		env, err := wire.DecodeEnvelope(plaintext)
		if err != nil {
			return err
		}

		done, err := s.dispatch(ctx, env)
		if err != nil {
			if cerr, ok := err.(*chaterr.Error); ok && cerr.Stage.Reportable() {
				_ = s.reply(wire.Envelope{
					Type:    chatproto.TypeResponse,
					Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{Status: chatproto.StatusError, Message: cerr.Error()}),
				})
				continue
			}
			return err
		}
		if done {
			return nil
		}
	}
}

// dispatch routes one decoded envelope according to the session's current
// state. It returns done=true when the session should close cleanly (the
// logout path) with no further reply.
func (s *Session) dispatch(ctx context.Context, env wire.Envelope) (done bool, err error) {
	switch s.getState() {
	case StateUnauth:
		return s.dispatchUnauth(ctx, env)
	case StateAuth:
		return s.dispatchAuth(ctx, env)
	default:
		return false, chaterr.Wrap(chaterr.StageProtocol, chaterr.CodeUnexpectedEnvelope, nil)
	}
}

func (s *Session) dispatchUnauth(ctx context.Context, env wire.Envelope) (bool, error) {
	switch env.Type {
	case chatproto.TypeLogin:
		return false, s.handleLogin(ctx, env)
	case chatproto.TypeSignup:
		return false, s.handleSignup(ctx, env)
	default:
		return false, s.reply(wire.Envelope{
			Type: chatproto.TypeResponse,
			Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{
				Status:  chatproto.StatusError,
				Message: "Not authenticated. Send 'login' or 'signup'.",
			}),
		})
	}
}

func (s *Session) dispatchAuth(ctx context.Context, env wire.Envelope) (bool, error) {
	switch env.Type {
	case chatproto.TypeChat:
		return false, s.handleChat(ctx, env)
	case chatproto.TypeWhoIsOnline:
		return false, s.handleWhoIsOnline(ctx, env)
	case chatproto.TypeLogout:
		s.deps.Registry.Unregister(s.UserID(), s)
		s.setState(StateUnauth)
		s.mu.Lock()
		s.loggedOut = true
		s.mu.Unlock()
		return true, nil
	default:
		return false, s.reply(wire.Envelope{
			Type: chatproto.TypeResponse,
			Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{
				Status:  chatproto.StatusError,
				Message: fmt.Sprintf("Unknown command type: %s", env.Type),
			}),
		})
	}
}
