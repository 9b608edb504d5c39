package defaults

import "time"

const (
	// ConnectTimeout is the default timeout for dialing the chat server.
	ConnectTimeout = 10 * time.Second
	// HandshakeTimeout is the default timeout for completing the RSA/AES handshake.
	HandshakeTimeout = 10 * time.Second
	// IdleTimeout is the default read deadline applied to a session between
	// frames once its handshake has completed, authenticated or not.
	IdleTimeout = 30 * time.Minute
)
