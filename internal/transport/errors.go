package transport

import "errors"

var (
	// ErrNotConnected indicates a frame operation was attempted before
	// ConnectTCP (or after Disconnect).
	ErrNotConnected = errors.New("transport not connected")

	// ErrNoNLAPromotor indicates PromoteNLA was called without a promotion
	// hook configured; the CredSSP/NTLMv2 handshake itself is an external
	// collaborator this package never implements.
	ErrNoNLAPromotor = errors.New("no NLA promotion hook configured")
)
