// Package tpkt implements the TPKT transport protocol (RFC 1006) used as
// the base transport layer for RDP connections.
package tpkt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	headerLen = 4
	version   = 0x03
)

// ErrShortLength indicates a TPKT header advertised a total length smaller
// than the header itself.
var ErrShortLength = errors.New("tpkt length shorter than header")

// ErrInvalidVersion indicates a TPKT header whose version byte was not 3.
var ErrInvalidVersion = errors.New("tpkt version byte not 3")

// Protocol frames and unframes X.224 TPDUs inside TPKT headers over a byte
// stream.
type Protocol struct {
	conn io.ReadWriteCloser
}

// New creates a TPKT protocol handler over the given stream.
func New(conn io.ReadWriteCloser) *Protocol {
	return &Protocol{
		conn: conn,
	}
}

// Send wraps pduData in a TPKT header (RFC 1006) and writes it whole.
func (p *Protocol) Send(pduData []byte) error {
	pdu := make([]byte, 0, headerLen+len(pduData))
	pdu = append(pdu, version, 0x00, 0x00, 0x00)
	binary.BigEndian.PutUint16(pdu[2:4], uint16(headerLen+len(pduData)))
	pdu = append(pdu, pduData...)

	if _, err := p.conn.Write(pdu); err != nil {
		return fmt.Errorf("tpkt send: %w", err)
	}

	return nil
}

// Receive reads one TPKT-framed PDU and returns a reader positioned at its
// payload (the bytes after the 4-byte header).
func (p *Protocol) Receive() (io.Reader, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(p.conn, header); err != nil {
		return nil, fmt.Errorf("tpkt receive header: %w", err)
	}

	if header[0] != version {
		return nil, fmt.Errorf("tpkt receive header: %w", ErrInvalidVersion)
	}

	length := binary.BigEndian.Uint16(header[2:4])
	if length < headerLen {
		return nil, fmt.Errorf("tpkt receive header: %w", ErrShortLength)
	}

	payload := make([]byte, length-headerLen)
	if len(payload) > 0 {
		if _, err := io.ReadFull(p.conn, payload); err != nil {
			return nil, fmt.Errorf("tpkt receive payload: %w", err)
		}
	}

	return bytes.NewReader(payload), nil
}

// Close closes the underlying connection.
func (p *Protocol) Close() error {
	return p.conn.Close()
}
