// Package wire implements the newline-delimited JSON envelope framing used
// on the chat connection, both before and after the secure channel is
// established. Every frame, plaintext or encrypted, is exactly one JSON
// object followed by a single '\n'.
package wire

import (
	"bufio"
	"encoding/json"

	"github.com/duskline/securechat/chaterr"
)

// DefaultMaxLineBytes bounds a single frame, guarding against a peer that
// never sends '\n' and would otherwise grow the read buffer without limit.
const DefaultMaxLineBytes = 1 << 20

// Envelope is the outer frame shape shared by every message on the wire,
// plaintext during the handshake and as the decrypted body of an
// encrypted_payload afterward.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncryptedEnvelope wraps an Envelope's ciphertext once the secure channel
// is established. Payload is the base64 blob produced by aead.SecureChannel.
type EncryptedEnvelope struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// ReadLine reads one '\n'-terminated frame from r, enforcing maxLen.
//
// Callers MUST pass a positive maxLen; ReadLine falls back to
// DefaultMaxLineBytes when maxLen <= 0. maxLen counts the trailing '\n'.
// A frame that does not fit in r's buffer is also rejected as
// CodeLineTooLarge, so the effective limit is the smaller of maxLen and
// r's buffer size (4096 bytes for a default bufio.Reader). The trailing
// newline is stripped from the returned slice.
func ReadLine(r *bufio.Reader, maxLen int) ([]byte, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineBytes
	}
	line, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return nil, chaterr.Wrap(chaterr.StageFraming, chaterr.CodeLineTooLarge, err)
	}
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageTransport, chaterr.ClassifyTransport(err), err)
	}
	if len(line) > maxLen {
		return nil, chaterr.Wrap(chaterr.StageFraming, chaterr.CodeLineTooLarge, nil)
	}
	out := make([]byte, len(line)-1)
	copy(out, line[:len(line)-1])
	return out, nil
}

// WriteLine writes b followed by '\n' and flushes w.
func WriteLine(w *bufio.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return chaterr.Wrap(chaterr.StageTransport, chaterr.ClassifyTransport(err), err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return chaterr.Wrap(chaterr.StageTransport, chaterr.ClassifyTransport(err), err)
	}
	if err := w.Flush(); err != nil {
		return chaterr.Wrap(chaterr.StageTransport, chaterr.ClassifyTransport(err), err)
	}
	return nil
}

// DecodeEnvelope unmarshals a line into an Envelope.
func DecodeEnvelope(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, chaterr.Wrap(chaterr.StageFraming, chaterr.CodeMalformedJSON, err)
	}
	return env, nil
}

// DecodeEncrypted unmarshals a line into an EncryptedEnvelope.
func DecodeEncrypted(line []byte) (EncryptedEnvelope, error) {
	var env EncryptedEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return EncryptedEnvelope{}, chaterr.Wrap(chaterr.StageFraming, chaterr.CodeMalformedJSON, err)
	}
	return env, nil
}

// EncodeEnvelope marshals an Envelope to its wire bytes (no trailing newline).
func EncodeEnvelope(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageFraming, chaterr.CodeMalformedJSON, err)
	}
	return b, nil
}

// EncodeEncrypted marshals an EncryptedEnvelope to its wire bytes (no trailing newline).
func EncodeEncrypted(env EncryptedEnvelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageFraming, chaterr.CodeMalformedJSON, err)
	}
	return b, nil
}

// MustMarshalPayload marshals v for embedding as an Envelope.Payload. It is
// used only with types under our control, so a marshal failure is a
// programmer error rather than a reportable runtime condition.
func MustMarshalPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
