// Package negotiate implements the RDP security negotiation state machine:
// the client drives a strict NLA -> TLS -> RDP fallback ladder over X.224
// Connection Request/Confirm TPDUs, and the server mirrors it by choosing a
// response consistent with its own policy.
package negotiate

import (
	"bytes"
	"fmt"
	"net"
	"strings"

	"github.com/rcarmo/rdp-negotiate/internal/logging"
	"github.com/rcarmo/rdp-negotiate/internal/protocol/pdu"
	"github.com/rcarmo/rdp-negotiate/internal/protocol/x224"
	"github.com/rcarmo/rdp-negotiate/internal/transport"
)

// Client drives one connection attempt's worth of negotiation state. Not
// safe for concurrent use; create a new Client per attempt.
type Client struct {
	Config

	transport transport.Transport

	state State

	requestedProtocols pdu.NegotiationProtocol
	selectedProtocol   pdu.NegotiationProtocol
	flags              pdu.NegotiationResponseFlag

	tcpConnected      bool
	securityConnected bool

	nlaPromotor func(net.Conn) (net.Conn, error)
	tlsConfig   transport.TLSConfig

	lastErr error
}

// New allocates a negotiator in StateInitial over t, with
// requested_protocols defaulting to RDP and cookie_max_length defaulting to
// 9, per spec's new(transport) operation.
func New(t transport.Transport) *Client {
	return &Client{
		Config:             defaultConfig(),
		transport:          t,
		state:              StateInitial,
		requestedProtocols: pdu.NegotiationProtocolRDP,
	}
}

// SetTLSConfig configures the TLS promotion used when TLS or NLA is
// selected.
func (c *Client) SetTLSConfig(cfg transport.TLSConfig) {
	c.tlsConfig = cfg
}

// SetNLAPromotor installs the CredSSP/NTLMv2 collaborator invoked when NLA
// is selected. This package never implements that handshake itself.
func (c *Client) SetNLAPromotor(fn func(net.Conn) (net.Conn, error)) {
	c.nlaPromotor = fn
}

// State returns the negotiator's current state.
func (c *Client) State() State {
	return c.state
}

// Settings returns the negotiation result. Only meaningful once State() is
// StateFinal.
func (c *Client) Settings() Settings {
	s := Settings{
		RequestedProtocols: c.requestedProtocols,
		SelectedProtocol:   c.selectedProtocol,
		Flags:              c.flags,
	}

	if c.selectedProtocol.IsRDP() {
		s.EncryptionEnabled = true
		s.EncryptionMethods = Encryption40Bit | Encryption128Bit | EncryptionFIPS
		s.EncryptionLevel = EncryptionLevelClientCompatible
	}

	return s
}

// Free releases the negotiator's transport. Safe to call more than once.
func (c *Client) Free() {
	if c.tcpConnected {
		c.disconnectTCP()
	}
}

// Connect drives the fallback ladder to completion: NLA, then TLS, then
// RDP, in strict precedence, disconnecting and retrying on a fresh TCP
// connection at each fallback. Returns nil only after the security
// promotion for the selected protocol also succeeds.
func (c *Client) Connect() error {
	if c.state != StateInitial {
		return fmt.Errorf("%w: Connect called outside StateInitial", ErrConfigurationInvalid)
	}

	initial, ok := initialState(c.enableNLA, c.enableTLS, c.enableRDP)
	if !ok {
		c.state = StateFail
		return fmt.Errorf("%w: no protocols enabled", ErrConfigurationInvalid)
	}
	c.state = initial

	if !c.negotiationEnabled {
		return c.connectWithoutNegotiation(initial)
	}

	if c.sendPreconnectionPDU {
		if err := c.sendPreconnection(); err != nil {
			c.state = StateFail
			return fmt.Errorf("%w: %v", ErrTransportIOFailed, err)
		}
	}

	for {
		logging.Debug("negotiate: state=%s", c.state)
		c.send()

		if c.state == StateFail {
			c.state = StateFinal
			return c.failure()
		}
		if c.state == StateFinal {
			break
		}
	}

	return c.securityConnect()
}

// initialState chooses the first trial protocol in strict NLA > TLS > RDP
// precedence.
func initialState(nla, tls, rdp bool) (State, bool) {
	switch {
	case nla:
		return StateTryNLA, true
	case tls:
		return StateTryTLS, true
	case rdp:
		return StateTryRDP, true
	default:
		return StateFail, false
	}
}

// protocolForState returns the protocol a given trial state represents.
func protocolForState(s State) pdu.NegotiationProtocol {
	switch s {
	case StateTryNLA:
		return pdu.NegotiationProtocolHybrid
	case StateTryTLS:
		return pdu.NegotiationProtocolSSL
	default:
		return pdu.NegotiationProtocolRDP
	}
}

// connectWithoutNegotiation implements the security_layer_negotiation_enabled
// = false path: collapse enabled_protocols to the single chosen protocol,
// pre-set selected_protocol, and perform a plain CR/CC with no rdpNegData
// at all.
func (c *Client) connectWithoutNegotiation(initial State) error {
	c.collapseToSingle(initial)
	c.selectedProtocol = protocolForState(initial)
	c.requestedProtocols = c.selectedProtocol

	if c.sendPreconnectionPDU {
		if err := c.sendPreconnection(); err != nil {
			c.state = StateFail
			return fmt.Errorf("%w: %v", ErrTransportIOFailed, err)
		}
	}

	if err := c.connectTCP(); err != nil {
		c.state = StateFail
		return fmt.Errorf("%w: %v", ErrTransportConnectFailed, err)
	}

	req := x224.ConnectionRequest{CRCDT: 0xE0, UserData: c.buildIdentificationLine()}
	if err := c.transport.WriteFrame(req.Serialize()); err != nil {
		c.disconnectTCP()
		c.state = StateFail
		return fmt.Errorf("%w: %v", ErrTransportIOFailed, err)
	}

	wire, err := c.transport.ReadFrame()
	if err != nil {
		c.disconnectTCP()
		c.state = StateFail
		return fmt.Errorf("%w: %v", ErrTransportIOFailed, err)
	}

	var cc x224.ConnectionConfirm
	if err := cc.Deserialize(wire); err != nil {
		c.disconnectTCP()
		c.state = StateFail
		return fmt.Errorf("%w: %v", ErrProtocolDecode, err)
	}

	c.state = StateFinal

	return c.securityConnect()
}

// collapseToSingle restricts enabled_protocols to exactly the chosen
// protocol, per invariant 1's extension in spec's design notes.
func (c *Client) collapseToSingle(initial State) {
	switch initial {
	case StateTryNLA:
		c.enableTLS, c.enableRDP = false, false
	case StateTryTLS:
		c.enableNLA, c.enableRDP = false, false
	case StateTryRDP:
		c.enableNLA, c.enableTLS = false, false
	}
}

// send dispatches the current state to its attempt function.
func (c *Client) send() {
	switch c.state {
	case StateTryNLA:
		c.tryProtocol(pdu.NegotiationProtocolHybrid|pdu.NegotiationProtocolSSL, c.fallbackAfterNLA)
	case StateTryTLS:
		c.tryProtocol(pdu.NegotiationProtocolSSL, c.fallbackAfterTLS)
	case StateTryRDP:
		c.tryProtocol(pdu.NegotiationProtocolRDP, c.fallbackAfterRDP)
	default:
		panic(fmt.Sprintf("negotiate: send invoked in state %s", c.state))
	}
}

func (c *Client) fallbackAfterNLA() State {
	if c.enableTLS {
		return StateTryTLS
	}
	if c.enableRDP {
		return StateTryRDP
	}
	return StateFail
}

func (c *Client) fallbackAfterTLS() State {
	if c.enableRDP {
		return StateTryRDP
	}
	return StateFail
}

func (c *Client) fallbackAfterRDP() State {
	return StateFail
}

// tryProtocol is the attempt_X() template: connect if needed, send the
// request, receive the response, and on anything short of success
// disconnect and transition via fallback.
func (c *Client) tryProtocol(requested pdu.NegotiationProtocol, fallback func() State) {
	if !c.tcpConnected {
		if err := c.connectTCP(); err != nil {
			c.lastErr = fmt.Errorf("%w: %v", ErrTransportConnectFailed, err)
			c.state = fallback()
			return
		}
	}

	if err := c.sendRequest(requested); err != nil {
		c.lastErr = fmt.Errorf("%w: %v", ErrTransportIOFailed, err)
		c.disconnectTCP()
		c.state = fallback()
		return
	}

	if err := c.receiveResponse(); err != nil {
		c.lastErr = err
	}

	if c.state != StateFinal {
		c.disconnectTCP()
		c.state = fallback()
	}
}

func (c *Client) connectTCP() error {
	if err := c.transport.ConnectTCP(c.host, c.port); err != nil {
		return err
	}
	c.tcpConnected = true
	return nil
}

func (c *Client) disconnectTCP() {
	_ = c.transport.Disconnect()
	c.tcpConnected = false
}

// buildIdentificationLine writes the routing-token-or-cookie CRLF-terminated
// line that precedes any rdpNegData, per spec's mutual-exclusion rule.
func (c *Client) buildIdentificationLine() []byte {
	var buf bytes.Buffer

	switch {
	case c.routingToken != "":
		buf.WriteString(strings.TrimRight(c.routingToken, "\r\n") + "\r\n")
	case c.cookie != "":
		cookie := c.cookie
		if c.cookieMaxLength > 0 && len(cookie) > c.cookieMaxLength {
			cookie = cookie[:c.cookieMaxLength]
		}
		buf.WriteString("Cookie: mstshash=" + cookie + "\r\n")
	}

	return buf.Bytes()
}

// sendRequest serializes and writes the Connection Request for one
// attempt. A requested value of RDP suppresses RDP_NEG_REQ emission
// entirely: the CR carries no rdpNegData in that case.
func (c *Client) sendRequest(requested pdu.NegotiationProtocol) error {
	c.requestedProtocols = requested

	userData := c.buildIdentificationLine()

	if requested != pdu.NegotiationProtocolRDP {
		req := pdu.NegotiationRequest{RequestedProtocols: requested}
		userData = append(userData, req.Serialize()...)
	}

	creq := x224.ConnectionRequest{CRCDT: 0xE0, UserData: userData}

	return c.transport.WriteFrame(creq.Serialize())
}

// receiveResponse reads and decodes one Connection Confirm, applying the
// implicit-RDP and selection-mismatch rules from spec's receive policy.
func (c *Client) receiveResponse() error {
	wire, err := c.transport.ReadFrame()
	if err != nil {
		c.state = StateFail
		return fmt.Errorf("%w: %v", ErrTransportIOFailed, err)
	}

	var cc x224.ConnectionConfirm
	if err := cc.Deserialize(wire); err != nil {
		c.state = StateFail
		return fmt.Errorf("%w: %v", ErrProtocolDecode, err)
	}

	if cc.LI <= 6 {
		if c.enableRDP {
			c.selectedProtocol = pdu.NegotiationProtocolRDP
			c.flags = 0
			c.state = StateFinal
			return nil
		}
		c.state = StateFail
		return fmt.Errorf("%w: server implied RDP but RDP is disabled", ErrProtocolSelectionMismatch)
	}

	data, err := pdu.DecodeNegotiationData(wire)
	if err != nil {
		c.state = StateFail
		return fmt.Errorf("%w: %v", ErrProtocolDecode, err)
	}

	switch v := data.(type) {
	case *pdu.NegotiationResponse:
		c.selectedProtocol = v.SelectedProtocol
		c.flags = v.Flags
		c.state = StateFinal

		if !c.protocolEnabled(v.SelectedProtocol) {
			c.state = StateFail
			return fmt.Errorf("%w: server selected %s", ErrProtocolSelectionMismatch, v.SelectedProtocol)
		}
		return nil

	case *pdu.NegotiationFailure:
		c.state = StateFail
		return &NegotiationFailureError{Code: v.FailureCode}

	default:
		c.state = StateFail
		return fmt.Errorf("%w: unexpected negotiation data", ErrProtocolDecode)
	}
}

func (c *Client) protocolEnabled(p pdu.NegotiationProtocol) bool {
	switch {
	case p.IsRDP():
		return c.enableRDP
	case p.IsSSL():
		return c.enableTLS
	case p.IsHybrid():
		return c.enableNLA
	default:
		return false
	}
}

// sendPreconnection emits the Hyper-V preconnection PDU ahead of the
// TPKT/X.224 exchange, connecting TCP first if needed.
func (c *Client) sendPreconnection() error {
	if !c.tcpConnected {
		if err := c.connectTCP(); err != nil {
			return err
		}
	}

	p := pdu.PreconnectionPDU{ID: c.preconnectionID, Blob: c.preconnectionBlob}

	return c.transport.WriteRaw(p.Serialize())
}

// securityConnect performs exactly one promotion based on selectedProtocol.
func (c *Client) securityConnect() error {
	var err error

	switch {
	case c.selectedProtocol.IsHybrid():
		err = c.transport.PromoteNLA(c.nlaPromotor)
	case c.selectedProtocol.IsSSL():
		err = c.transport.PromoteTLS(c.tlsConfig)
	case c.selectedProtocol.IsRDP():
		err = c.transport.PromoteRDP()
	default:
		return fmt.Errorf("%w: no protocol selected", ErrConfigurationInvalid)
	}

	if err != nil {
		c.state = StateFail
		return fmt.Errorf("%w: %v", ErrPromotionFailed, err)
	}

	c.securityConnected = true

	return nil
}

// failure returns the most recent recorded error, or ErrConfigurationInvalid
// if none was recorded (e.g. no protocols were ever tried).
func (c *Client) failure() error {
	if c.lastErr != nil {
		return c.lastErr
	}
	return ErrConfigurationInvalid
}
