// Package chaterr gives every layer of the chat server a stable, structured
// error so the session loop can decide, without string matching, whether a
// failure is reported back to the client or simply closes the connection.
package chaterr

import "fmt"

// Stage identifies which layer of the protocol stack produced the error.
//
// These are the five categories the error handling design distinguishes,
// plus StageStore for backend failures: transport, framing, crypto and
// store failures close the session silently; protocol and application
// failures get a reply envelope.
type Stage string

const (
	StageTransport   Stage = "transport"
	StageFraming     Stage = "framing"
	StageCrypto      Stage = "crypto"
	StageProtocol    Stage = "protocol"
	StageApplication Stage = "application"
	StageStore       Stage = "store"
)

// Code is a stable, programmatic error identifier.
type Code string

const (
	CodeEOF                Code = "eof"
	CodeWriteFailed        Code = "write_failed"
	CodeLineTooLarge       Code = "line_too_large"
	CodeMalformedJSON      Code = "malformed_json"
	CodeHandshakeFailed    Code = "handshake_failed"
	CodeDecryptFailed      Code = "decrypt_failed"
	CodeUnexpectedEnvelope Code = "unexpected_envelope"
	CodeNotAuthenticated   Code = "not_authenticated"
	CodeUnknownCommand     Code = "unknown_command"
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeEmailExists        Code = "email_exists"
	CodeMalformedPayload   Code = "malformed_payload"
	CodeRecipientOffline   Code = "recipient_offline"
	CodeNotFound           Code = "not_found"
	CodeCanceled           Code = "canceled"
	CodeTimeout            Code = "timeout"
	CodeStoreFailed        Code = "store_failed"
)

// Error is a structured, wrapped error carrying the stage and code.
type Error struct {
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a structured Error for the given stage and code.
func Wrap(stage Stage, code Code, err error) error {
	return &Error{Stage: stage, Code: code, Err: err}
}

// Reportable reports whether errors at this stage should produce a reply
// envelope to the client rather than a silent close.
func (s Stage) Reportable() bool {
	return s == StageProtocol || s == StageApplication
}
