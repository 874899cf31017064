package negotiate

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rcarmo/rdp-negotiate/internal/protocol/pdu"
	"github.com/rcarmo/rdp-negotiate/internal/protocol/x224"
	"github.com/rcarmo/rdp-negotiate/internal/transport"
)

// ServerPolicy decides what a server-side negotiator offers.
type ServerPolicy struct {
	// SupportedProtocols is the bitmask of protocols this server is
	// willing to select.
	SupportedProtocols pdu.NegotiationProtocol

	// AllowStandardRDP: when false and the client requested only RDP, the
	// server emits NEG_FAILURE(SSL_REQUIRED_BY_SERVER) instead of silently
	// accepting standard security.
	AllowStandardRDP bool

	// HasServerKey must be true whenever standard RDP security ends up
	// selected; its absence is a configuration error on the server side.
	HasServerKey bool
}

// Server mirrors Client on the accepting side: read one Connection
// Request, choose a protocol consistent with policy, and emit the
// response.
type Server struct {
	transport transport.Transport
	policy    ServerPolicy

	requestedProtocols pdu.NegotiationProtocol
	selectedProtocol   pdu.NegotiationProtocol
	state              State
}

// NewServer allocates a server-side negotiator in StateInitial.
func NewServer(t transport.Transport, policy ServerPolicy) *Server {
	return &Server{transport: t, policy: policy, state: StateInitial}
}

// State returns the negotiator's current state.
func (s *Server) State() State {
	return s.state
}

// SelectedProtocol returns the protocol chosen by SendNegotiationResponse.
// Only meaningful once State() is StateFinal.
func (s *Server) SelectedProtocol() pdu.NegotiationProtocol {
	return s.selectedProtocol
}

// Accept reads a Connection Request TPDU and decodes its RDP_NEG_REQ, if
// present, skipping any leading routing-token/cookie line.
func (s *Server) Accept() error {
	wire, err := s.transport.ReadFrame()
	if err != nil {
		s.state = StateFail
		return fmt.Errorf("%w: %v", ErrTransportIOFailed, err)
	}

	var cr x224.ConnectionRequest
	if err := cr.Deserialize(wire); err != nil {
		s.state = StateFail
		return fmt.Errorf("%w: %v", ErrProtocolDecode, err)
	}

	userData := cr.UserData
	if idx := bytes.Index(userData, []byte("\r\n")); idx >= 0 {
		userData = userData[idx+2:]
	}

	if len(userData) >= 8 {
		typ := pdu.NegotiationType(userData[0])
		if !typ.IsRequest() {
			s.state = StateFail
			return fmt.Errorf("%w: unexpected negotiation type in request", ErrProtocolDecode)
		}
		s.requestedProtocols = pdu.NegotiationProtocol(binary.LittleEndian.Uint32(userData[4:8]))
	} else {
		s.requestedProtocols = pdu.NegotiationProtocolRDP
	}

	return nil
}

// strongestCommon picks the highest-precedence protocol both the client
// requested and the server supports: NLA, then TLS, then RDP.
func strongestCommon(requested, supported pdu.NegotiationProtocol) pdu.NegotiationProtocol {
	common := requested & supported

	switch {
	case common&pdu.NegotiationProtocolHybrid != 0:
		return pdu.NegotiationProtocolHybrid
	case common&pdu.NegotiationProtocolSSL != 0:
		return pdu.NegotiationProtocolSSL
	default:
		return pdu.NegotiationProtocolRDP
	}
}

// SendNegotiationResponse chooses and emits the Connection Confirm per
// spec's server policy, then mutates selectedProtocol to reflect it.
func (s *Server) SendNegotiationResponse() error {
	var negData []byte

	switch {
	case s.requestedProtocols > pdu.NegotiationProtocolRDP:
		s.selectedProtocol = strongestCommon(s.requestedProtocols, s.policy.SupportedProtocols)
		resp := pdu.NegotiationResponse{
			Flags:            pdu.NegotiationResponseFlagECDBSupported,
			SelectedProtocol: s.selectedProtocol,
		}
		negData = resp.Serialize()

	case !s.policy.AllowStandardRDP:
		fail := pdu.NegotiationFailure{FailureCode: pdu.NegotiationFailureCodeSSLRequired}
		negData = fail.Serialize()
		s.state = StateFail

	default:
		s.selectedProtocol = pdu.NegotiationProtocolRDP
	}

	if s.state != StateFail && s.selectedProtocol.IsRDP() && !s.policy.HasServerKey {
		return fmt.Errorf("%w: standard RDP security selected but no server key configured", ErrConfigurationInvalid)
	}

	cc := x224.ConnectionConfirm{CCCDT: 0xD0}
	if err := s.transport.WriteFrame(cc.Serialize(negData)); err != nil {
		s.state = StateFail
		return fmt.Errorf("%w: %v", ErrTransportIOFailed, err)
	}

	if s.state != StateFail {
		s.state = StateFinal
	}

	return nil
}
