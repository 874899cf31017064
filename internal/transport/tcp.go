package transport

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rcarmo/rdp-negotiate/internal/protocol/tpkt"
)

const (
	tcpConnectionTimeout = 5 * time.Second
	tlsHandshakeTimeout  = 30 * time.Second
	readBufferSize       = 64 * 1024
)

// bufferedConn overlays a bufio.Reader on a net.Conn without losing access
// to the other net.Conn methods, mirroring the teacher's
// bufio.NewReaderSize(c.conn, readBufferSize) pattern.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func newBufferedConn(conn net.Conn) *bufferedConn {
	return &bufferedConn{Conn: conn, r: bufio.NewReaderSize(conn, readBufferSize)}
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

// TCPTransport is the concrete Transport over a real net.Conn.
type TCPTransport struct {
	conn      net.Conn
	tpktLayer *tpkt.Protocol
}

// New creates an unconnected TCPTransport.
func New() *TCPTransport {
	return &TCPTransport{}
}

func (t *TCPTransport) wrap(conn net.Conn) {
	t.conn = conn
	t.tpktLayer = tpkt.New(newBufferedConn(conn))
}

// ConnectTCP dials host:port with a bounded timeout.
func (t *TCPTransport) ConnectTCP(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := net.DialTimeout("tcp", addr, tcpConnectionTimeout)
	if err != nil {
		return fmt.Errorf("tcp connect: %w", err)
	}

	t.wrap(conn)

	return nil
}

// Disconnect closes the current connection, if any.
func (t *TCPTransport) Disconnect() error {
	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	t.tpktLayer = nil

	return err
}

// ReadFrame reads one TPKT-framed PDU.
func (t *TCPTransport) ReadFrame() (io.Reader, error) {
	if t.tpktLayer == nil {
		return nil, ErrNotConnected
	}

	return t.tpktLayer.Receive()
}

// WriteFrame wraps pduData in a TPKT header and writes it.
func (t *TCPTransport) WriteFrame(pduData []byte) error {
	if t.tpktLayer == nil {
		return ErrNotConnected
	}

	return t.tpktLayer.Send(pduData)
}

// WriteRaw writes data directly to the socket, bypassing TPKT framing.
func (t *TCPTransport) WriteRaw(data []byte) error {
	if t.conn == nil {
		return ErrNotConnected
	}

	_, err := t.conn.Write(data)

	return err
}

// SendBuffer returns a zero-length buffer with hint bytes of capacity.
func (t *TCPTransport) SendBuffer(hint int) []byte {
	return make([]byte, 0, hint)
}

// PromoteTLS replaces the plain connection with a TLS client session,
// grounded in the teacher's internal/rdp/tls.go StartTLS.
func (t *TCPTransport) PromoteTLS(cfg TLSConfig) error {
	if t.conn == nil {
		return ErrNotConnected
	}

	minVersion := cfg.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ServerName:         cfg.ServerName,
		MinVersion:         minVersion,
		MaxVersion:         tls.VersionTLS13,
	}

	if tlsConfig.InsecureSkipVerify && tlsConfig.ServerName == "" {
		if host, _, err := net.SplitHostPort(t.conn.RemoteAddr().String()); err == nil && host != "" {
			tlsConfig.ServerName = host
		}
	}

	tlsConn := tls.Client(t.conn, tlsConfig)

	if tcpConn, ok := t.conn.(*net.TCPConn); ok {
		_ = tcpConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
	}

	if err := tlsConn.Handshake(); err != nil {
		if strings.Contains(err.Error(), "certificate") || strings.Contains(err.Error(), "x509") {
			return fmt.Errorf("tls certificate verification failed: %w", err)
		}
		return fmt.Errorf("tls handshake failed: %w", err)
	}

	if tcpConn, ok := t.conn.(*net.TCPConn); ok {
		_ = tcpConn.SetDeadline(time.Time{})
	}

	t.wrap(tlsConn)

	return nil
}

// PromoteNLA hands the raw connection to promote and adopts whatever
// connection it returns (the caller's CredSSP/NTLMv2 implementation is
// expected to run its own TLS handshake first, as NLA requires).
func (t *TCPTransport) PromoteNLA(promote func(net.Conn) (net.Conn, error)) error {
	if t.conn == nil {
		return ErrNotConnected
	}

	if promote == nil {
		return ErrNoNLAPromotor
	}

	conn, err := promote(t.conn)
	if err != nil {
		return fmt.Errorf("nla promotion: %w", err)
	}

	t.wrap(conn)

	return nil
}

// PromoteRDP is a no-op: standard RDP security performs no promotion here.
func (t *TCPTransport) PromoteRDP() error {
	if t.conn == nil {
		return ErrNotConnected
	}

	return nil
}
