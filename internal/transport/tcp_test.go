package transport

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTCPTransport_WriteFrame_AddsTPKTHeader(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	client := New()
	client.wrap(clientConn)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	done := make(chan error, 1)
	go func() {
		done <- client.WriteFrame(payload)
	}()

	buf := make([]byte, 4096)
	n, err := serverConn.Read(buf)
	require.NoError(t, err)
	require.NoError(t, <-done)

	// TPKT header is 4 bytes: version, reserved, length(2).
	require.Equal(t, byte(3), buf[0])
	require.Equal(t, payload, buf[4:n])
}

func TestTCPTransport_ReadFrame_DecodesTPKTHeader(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	client := New()
	client.wrap(clientConn)

	frame := []byte{0x03, 0x00, 0x00, 0x08, 0x01, 0x02, 0x03, 0x04}

	go func() {
		_, _ = serverConn.Write(frame)
	}()

	wire, err := client.ReadFrame()
	require.NoError(t, err)

	got, err := io.ReadAll(wire)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, got)
}

func TestTCPTransport_WriteRaw_BypassesTPKTFraming(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	client := New()
	client.wrap(clientConn)

	raw := []byte{0x12, 0x00, 0x00, 0x00}

	done := make(chan error, 1)
	go func() {
		done <- client.WriteRaw(raw)
	}()

	buf := make([]byte, len(raw))
	_, err := io.ReadFull(serverConn, buf)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, raw, buf)
}

func TestTCPTransport_NotConnected_Errors(t *testing.T) {
	tr := New()

	_, err := tr.ReadFrame()
	require.ErrorIs(t, err, ErrNotConnected)

	require.ErrorIs(t, tr.WriteFrame([]byte{0x01}), ErrNotConnected)
	require.ErrorIs(t, tr.WriteRaw([]byte{0x01}), ErrNotConnected)
	require.ErrorIs(t, tr.PromoteTLS(TLSConfig{}), ErrNotConnected)
	require.ErrorIs(t, tr.PromoteNLA(nil), ErrNotConnected)
	require.ErrorIs(t, tr.PromoteRDP(), ErrNotConnected)
}

func TestTCPTransport_Disconnect_SafeWhenNotConnected(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Disconnect())
}

func TestTCPTransport_Disconnect_ClosesConn(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	tr := New()
	tr.wrap(clientConn)

	require.NoError(t, tr.Disconnect())

	_, err := tr.ReadFrame()
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestTCPTransport_PromoteNLA_NilPromotorErrors(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	tr := New()
	tr.wrap(clientConn)

	err := tr.PromoteNLA(nil)
	require.ErrorIs(t, err, ErrNoNLAPromotor)
}

func TestTCPTransport_PromoteNLA_AdoptsReturnedConn(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	replacement, otherEnd := net.Pipe()
	defer otherEnd.Close()

	tr := New()
	tr.wrap(clientConn)

	promote := func(conn net.Conn) (net.Conn, error) {
		require.Equal(t, clientConn, conn)
		return replacement, nil
	}

	require.NoError(t, tr.PromoteNLA(promote))
	require.Equal(t, replacement, tr.conn)
}

func TestTCPTransport_PromoteRDP_NoOpWhenConnected(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	tr := New()
	tr.wrap(clientConn)

	require.NoError(t, tr.PromoteRDP())
}

func TestTCPTransport_SendBuffer(t *testing.T) {
	tr := New()
	buf := tr.SendBuffer(16)
	require.Len(t, buf, 0)
	require.Equal(t, 16, cap(buf))
}
