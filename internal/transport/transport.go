// Package transport abstracts the TCP connection a negotiation attempt
// runs over, including the one-shot promotions to TLS and to NLA that
// follow a successful protocol selection. It owns framing I/O but not any
// negotiation state.
package transport

import (
	"io"
	"net"
)

// TLSConfig configures the one-shot promotion to Enhanced RDP Security
// (TLS), grounded in the teacher's internal/rdp/tls.go field set.
type TLSConfig struct {
	InsecureSkipVerify bool
	ServerName         string
	MinVersion         uint16
}

// Transport is the contract a negotiator needs from the underlying socket:
// connect/disconnect, TPKT-framed read/write, and the three post-selection
// security promotions.
type Transport interface {
	// ConnectTCP opens a fresh TCP connection to host:port. Called once per
	// attempt; a prior connection must be closed with Disconnect first.
	ConnectTCP(host string, port int) error

	// Disconnect closes the current connection. Safe to call when not
	// connected.
	Disconnect() error

	// ReadFrame reads one TPKT-framed PDU and returns a reader over its
	// payload (the bytes after the TPKT header).
	ReadFrame() (io.Reader, error)

	// WriteFrame wraps pduData in a TPKT header and writes it whole.
	WriteFrame(pduData []byte) error

	// WriteRaw writes data directly to the socket with no TPKT framing,
	// used only for the preconnection PDU that precedes the TPKT/X.224
	// exchange entirely.
	WriteRaw(data []byte) error

	// PromoteTLS performs the TLS client handshake in place, replacing the
	// plain TCP connection with the TLS session for all subsequent frames.
	PromoteTLS(cfg TLSConfig) error

	// PromoteNLA hands the raw connection to promote (the CredSSP/NTLMv2
	// collaborator the caller supplies) and adopts the connection it
	// returns. A nil promote is an error: this package never performs the
	// handshake itself.
	PromoteNLA(promote func(net.Conn) (net.Conn, error)) error

	// PromoteRDP finalizes selection of standard RDP security. No
	// cryptographic promotion occurs; present for symmetry with the other
	// two and to give callers a hook for legacy encryption setup.
	PromoteRDP() error

	// SendBuffer returns a buffer sized to hint, for callers building a PDU
	// before a WriteFrame/WriteRaw call.
	SendBuffer(hint int) []byte
}
