// Package chatserver accepts connections and spawns one session.Session per
// connection. It holds no list of sessions itself (the registry is the
// only place session state lives), so shutdown only has to stop accepting
// and cancel the shared context; individual sessions notice on their own.
package chatserver

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskline/securechat/auth"
	"github.com/duskline/securechat/crypto/handshake"
	"github.com/duskline/securechat/observability"
	"github.com/duskline/securechat/registry"
	"github.com/duskline/securechat/router"
	"github.com/duskline/securechat/session"
	"github.com/duskline/securechat/store"
	"github.com/duskline/securechat/wire"
)

// Config tunes a Server. Zero-valued fields are filled in by DefaultConfig.
type Config struct {
	MaxLineBytes     int
	MaxConnsPerIP    int
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	Logger           zerolog.Logger
	Observer         observability.ChatObserver
}

// DefaultConfig returns conservative defaults for every tunable field.
func DefaultConfig() Config {
	return Config{
		MaxLineBytes:     wire.DefaultMaxLineBytes,
		MaxConnsPerIP:    8,
		HandshakeTimeout: 10 * time.Second,
		IdleTimeout:      30 * time.Minute,
		Logger:           zerolog.Nop(),
	}
}

// Server accepts TCP connections and runs one session per connection.
type Server struct {
	cfg Config

	privateKey *rsa.PrivateKey
	registry   *registry.Registry
	router     *router.Router
	store      store.AccountStore

	mu        sync.Mutex
	connsByIP map[string]int
	stopOnce  sync.Once
}

// New validates cfg, fills in any zero-valued fields via DefaultConfig, and
// wires up a Server backed by st. It also generates the server's one
// RSA-2048 keypair, shared by every session for the process lifetime.
func New(cfg Config, st store.AccountStore) (*Server, error) {
	def := DefaultConfig()
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = def.MaxLineBytes
	}
	if cfg.MaxConnsPerIP <= 0 {
		cfg.MaxConnsPerIP = def.MaxConnsPerIP
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if st == nil {
		return nil, fmt.Errorf("chatserver: store must not be nil")
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopChatObserver
	}

	priv, err := handshake.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("chatserver: generate server key: %w", err)
	}

	reg := registry.New()
	return &Server{
		cfg:        cfg,
		privateKey: priv,
		registry:   reg,
		router:     router.New(reg, st),
		store:      st,
		connsByIP:  make(map[string]int),
	}, nil
}

// Serve accepts connections on ln until ctx is canceled or Accept fails.
// Each accepted connection is handed to its own session.Session goroutine;
// Serve itself never blocks on a session's lifetime.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		s.stopOnce.Do(func() { ln.Close() })
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		ip := hostOf(conn.RemoteAddr())
		if !s.admit(ip) {
			s.cfg.Logger.Warn().Str("ip", ip).Msg("rejecting connection: per-IP connection limit reached")
			conn.Close()
			continue
		}
		s.cfg.Observer.ConnCount(s.connCount())

		go func() {
			defer s.release(ip)
			defer func() { s.cfg.Observer.ConnCount(s.connCount()) }()
			s.runSession(ctx, conn)
		}()
	}
}

func (s *Server) runSession(ctx context.Context, conn net.Conn) {
	deps := session.Deps{
		PrivateKey:       s.privateKey,
		Registry:         s.registry,
		Router:           s.router,
		Store:            s.store,
		MaxLineBytes:     s.cfg.MaxLineBytes,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		IdleTimeout:      s.cfg.IdleTimeout,
		Logger:           s.cfg.Logger,
		Observer:         s.cfg.Observer,
	}
	sess := session.New(conn, deps)
	if err := sess.Run(ctx); err != nil {
		s.cfg.Logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("session ended")
	}
}

func (s *Server) connCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, n := range s.connsByIP {
		total += int64(n)
	}
	return total
}

func (s *Server) admit(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connsByIP[ip] >= s.cfg.MaxConnsPerIP {
		return false
	}
	s.connsByIP[ip]++
	return true
}

func (s *Server) release(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connsByIP[ip]--
	if s.connsByIP[ip] <= 0 {
		delete(s.connsByIP, ip)
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// NormalizeEmail is re-exported for callers (the CLI entrypoint, tests)
// that need the same normalization auth and store apply internally.
func NormalizeEmail(email string) string { return auth.NormalizeEmail(email) }
