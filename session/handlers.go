package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/duskline/securechat/auth"
	"github.com/duskline/securechat/chaterr"
	"github.com/duskline/securechat/chatproto"
	"github.com/duskline/securechat/observability"
	"github.com/duskline/securechat/router"
	"github.com/duskline/securechat/store"
	"github.com/duskline/securechat/wire"
)

func decodePayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return chaterr.Wrap(chaterr.StageApplication, chaterr.CodeMalformedPayload, err)
	}
	return nil
}

func (s *Session) handleLogin(ctx context.Context, env wire.Envelope) error {
	var p chatproto.LoginPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return s.reply(wire.Envelope{
			Type: chatproto.TypeResponse,
			Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{
				Status:  chatproto.StatusError,
				Message: "Malformed login envelope.",
			}),
		})
	}

	email := auth.NormalizeEmail(p.Email)
	user, err := auth.Authenticate(ctx, s.deps.Store, email, p.Password)
	if err != nil {
		return chaterr.Wrap(chaterr.StageStore, chaterr.CodeStoreFailed, err)
	}
	if user == nil {
		s.deps.Observer.Auth(observability.AuthResultInvalid)
		return s.reply(wire.Envelope{
			Type: chatproto.TypeResponse,
			Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{
				Status:  chatproto.StatusError,
				Message: "Login failed. Invalid credentials.",
			}),
		})
	}
	s.deps.Observer.Auth(observability.AuthResultOK)

	s.mu.Lock()
	s.userID = user.ID
	s.fullName = user.FullName
	s.mu.Unlock()
	s.setState(StateAuth)
	s.deps.Registry.Register(user.ID, s)
	s.deps.Observer.SessionsOnline(len(s.deps.Registry.ListOnline()))

	return s.reply(wire.Envelope{
		Type: chatproto.TypeResponse,
		Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{
			Status:  chatproto.StatusOK,
			Message: "Login successful. Welcome, " + user.FullName + "!",
			UserInfo: &chatproto.UserInfo{
				ID:       user.ID,
				FullName: user.FullName,
				Email:    user.Email,
			},
		}),
	})
}

func (s *Session) handleSignup(ctx context.Context, env wire.Envelope) error {
	var p chatproto.SignupPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return s.reply(wire.Envelope{
			Type: chatproto.TypeResponse,
			Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{
				Status:  chatproto.StatusError,
				Message: "Malformed sign-up envelope.",
			}),
		})
	}

	email := auth.NormalizeEmail(p.Email)
	_, err := auth.SignUp(ctx, s.deps.Store, p.FullName, email, p.Password)
	if err != nil {
		if !errors.Is(err, store.ErrEmailExists) {
			return chaterr.Wrap(chaterr.StageStore, chaterr.CodeStoreFailed, err)
		}
		s.deps.Observer.Auth(observability.AuthResultExists)
		return s.reply(wire.Envelope{
			Type: chatproto.TypeResponse,
			Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{
				Status:  chatproto.StatusError,
				Message: "Sign-up failed. Email already exists.",
			}),
		})
	}
	s.deps.Observer.Auth(observability.AuthResultOK)

	return s.reply(wire.Envelope{
		Type: chatproto.TypeResponse,
		Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{
			Status:  chatproto.StatusOK,
			Message: "Sign-up successful. Please login to authenticate.",
		}),
	})
}

func (s *Session) handleChat(ctx context.Context, env wire.Envelope) error {
	var p chatproto.ChatPayload
	if err := decodePayload(env.Payload, &p); err != nil || p.RecipientID == "" {
		return s.reply(wire.Envelope{
			Type: chatproto.TypeResponse,
			Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{
				Status:  chatproto.StatusError,
				Message: "Malformed chat envelope.",
			}),
		})
	}

	delivery, err := s.deps.Router.RouteChat(ctx, s, p.RecipientID, p.Text)
	if err != nil {
		return chaterr.Wrap(chaterr.StageStore, chaterr.CodeStoreFailed, err)
	}
	if delivery == router.DeliveredOnline {
		s.deps.Observer.Delivery(observability.DeliveryResultOnline)
		return nil
	}
	s.deps.Observer.Delivery(observability.DeliveryResultOffline)
	return s.reply(wire.Envelope{
		Type: chatproto.TypeResponse,
		Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{
			Status:  chatproto.StatusInfo,
			Message: "Recipient is offline. Message stored.",
		}),
	})
}

func (s *Session) handleWhoIsOnline(ctx context.Context, env wire.Envelope) error {
	users := s.deps.Registry.ListOnline()
	return s.reply(wire.Envelope{
		Type: chatproto.TypeResponse,
		Payload: wire.MustMarshalPayload(chatproto.ResponsePayload{
			Status: chatproto.StatusOK,
			Users:  users,
		}),
	})
}
