// Package router delivers a chat message to its recipient, either directly
// through a live secure channel or by persisting it for later pickup.
package router

import (
	"context"

	"github.com/duskline/securechat/chatproto"
	"github.com/duskline/securechat/registry"
	"github.com/duskline/securechat/store"
	"github.com/duskline/securechat/wire"
)

// Router wires a Registry to an AccountStore so RouteChat can decide
// between online delivery and offline persistence.
type Router struct {
	reg *registry.Registry
	st  store.AccountStore
}

// New returns a Router over reg and st.
func New(reg *registry.Registry, st store.AccountStore) *Router {
	return &Router{reg: reg, st: st}
}

// Delivery describes what RouteChat did, so the session layer knows which
// reply, if any, to send back to the sender.
type Delivery int

const (
	DeliveredOnline Delivery = iota
	DeliveredOffline
)

// RouteChat delivers text from sender to recipientID. The sender's
// identity is always taken from the SessionHandle, never from the
// envelope the client sent: the envelope's own notion of "who is
// sending" cannot be trusted. There is no check that recipientID names an
// existing account: an offline or nonexistent recipient is treated
// identically, the message is simply stored.
func (r *Router) RouteChat(ctx context.Context, sender registry.SessionHandle, recipientID, text string) (Delivery, error) {
	if recipient, ok := r.reg.Get(recipientID); ok && recipient.IsAuthenticated() {
		env := wire.Envelope{
			Type: chatproto.TypeNewMessage,
			Payload: wire.MustMarshalPayload(chatproto.NewMessagePayload{
				SenderID:   sender.UserID(),
				SenderName: sender.FullName(),
				Text:       text,
			}),
		}
		if err := recipient.Deliver(ctx, env); err != nil {
			return 0, err
		}
		return DeliveredOnline, nil
	}

	if _, err := r.st.StoreMessage(ctx, sender.UserID(), recipientID, []byte(text)); err != nil {
		return 0, err
	}
	return DeliveredOffline, nil
}
