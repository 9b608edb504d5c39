// Package observability gives the chat server a single metrics sink with a
// zero-cost no-op implementation and a runtime-swappable atomic wrapper, so
// a component can be constructed before the caller decides whether metrics
// are enabled at all.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// HandshakeResult classifies how a connection's handshake ended.
type HandshakeResult string

const (
	HandshakeResultOK      HandshakeResult = "ok"
	HandshakeResultFailed  HandshakeResult = "failed"
	HandshakeResultTimeout HandshakeResult = "timeout"
)

// AuthResult classifies how a login or signup attempt ended.
type AuthResult string

const (
	AuthResultOK      AuthResult = "ok"
	AuthResultInvalid AuthResult = "invalid_credentials"
	AuthResultExists  AuthResult = "email_exists"
)

// DeliveryResult classifies how a routed chat message was handled.
type DeliveryResult string

const (
	DeliveryResultOnline  DeliveryResult = "online"
	DeliveryResultOffline DeliveryResult = "offline"
)

// CloseReason classifies why a session's connection ended.
type CloseReason string

const (
	CloseReasonClientClosed   CloseReason = "client_closed"
	CloseReasonLogout         CloseReason = "logout"
	CloseReasonProtocolErr    CloseReason = "protocol_error"
	CloseReasonServerShutdown CloseReason = "server_shutdown"
)

// ChatObserver receives every metric-worthy event in the session lifecycle.
type ChatObserver interface {
	ConnCount(n int64)
	SessionsOnline(n int)
	Handshake(result HandshakeResult, d time.Duration)
	Auth(result AuthResult)
	Delivery(result DeliveryResult)
	Close(reason CloseReason)
}

type noopChatObserver struct{}

func (noopChatObserver) ConnCount(int64)                          {}
func (noopChatObserver) SessionsOnline(int)                       {}
func (noopChatObserver) Handshake(HandshakeResult, time.Duration) {}
func (noopChatObserver) Auth(AuthResult)                          {}
func (noopChatObserver) Delivery(DeliveryResult)                  {}
func (noopChatObserver) Close(CloseReason)                        {}

// NoopChatObserver is a zero-cost observer used when metrics are disabled.
var NoopChatObserver ChatObserver = noopChatObserver{}

// AtomicChatObserver swaps its delegate at runtime, so a Server can be
// constructed with a no-op observer and upgraded to a Prometheus-backed one
// once the metrics registry is ready, without restructuring construction
// order.
type AtomicChatObserver struct {
	once sync.Once
	v    atomic.Value
}

type chatObserverHolder struct {
	obs ChatObserver
}

// NewAtomicChatObserver returns an initialized atomic observer defaulting
// to the no-op delegate.
func NewAtomicChatObserver() *AtomicChatObserver {
	a := &AtomicChatObserver{}
	a.once.Do(func() { a.v.Store(&chatObserverHolder{obs: NoopChatObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicChatObserver) Set(obs ChatObserver) {
	if obs == nil {
		obs = NoopChatObserver
	}
	a.once.Do(func() { a.v.Store(&chatObserverHolder{obs: NoopChatObserver}) })
	a.v.Store(&chatObserverHolder{obs: obs})
}

func (a *AtomicChatObserver) load() ChatObserver {
	a.once.Do(func() { a.v.Store(&chatObserverHolder{obs: NoopChatObserver}) })
	return a.v.Load().(*chatObserverHolder).obs
}

func (a *AtomicChatObserver) ConnCount(n int64)    { a.load().ConnCount(n) }
func (a *AtomicChatObserver) SessionsOnline(n int) { a.load().SessionsOnline(n) }
func (a *AtomicChatObserver) Handshake(result HandshakeResult, d time.Duration) {
	a.load().Handshake(result, d)
}
func (a *AtomicChatObserver) Auth(result AuthResult)         { a.load().Auth(result) }
func (a *AtomicChatObserver) Delivery(result DeliveryResult) { a.load().Delivery(result) }
func (a *AtomicChatObserver) Close(reason CloseReason)       { a.load().Close(reason) }
