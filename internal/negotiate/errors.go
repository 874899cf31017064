package negotiate

import (
	"errors"
	"fmt"

	"github.com/rcarmo/rdp-negotiate/internal/protocol/pdu"
)

var (
	// ErrTransportConnectFailed indicates ConnectTCP failed for an attempt.
	ErrTransportConnectFailed = errors.New("transport connect failed")

	// ErrTransportIOFailed indicates a send or receive failed at the
	// transport layer during an attempt.
	ErrTransportIOFailed = errors.New("transport io failed")

	// ErrProtocolDecode indicates a malformed TPDU or rdpNegData block.
	ErrProtocolDecode = errors.New("protocol decode failed")

	// ErrProtocolSelectionMismatch indicates the server selected a protocol
	// outside enabled_protocols.
	ErrProtocolSelectionMismatch = errors.New("server selected a protocol outside enabled protocols")

	// ErrPromotionFailed indicates the post-selection TLS or NLA handshake
	// failed.
	ErrPromotionFailed = errors.New("security promotion failed")

	// ErrConfigurationInvalid indicates no protocols are enabled, or (server
	// side) RDP was selected with no server key configured.
	ErrConfigurationInvalid = errors.New("invalid negotiator configuration")

	// ErrNegotiationFailure is the sentinel NegotiationFailureError.Is
	// compares against; use errors.Is(err, ErrNegotiationFailure) to detect
	// a well-formed RDP_NEG_FAILURE regardless of its code.
	ErrNegotiationFailure = errors.New("negotiation failure")
)

// NegotiationFailureError wraps a peer's RDP_NEG_FAILURE failureCode.
type NegotiationFailureError struct {
	Code pdu.NegotiationFailureCode
}

func (e *NegotiationFailureError) Error() string {
	return fmt.Sprintf("negotiation failure: %s (code=%d)", e.Code.String(), uint32(e.Code))
}

// Is makes errors.Is(err, ErrNegotiationFailure) match any failure code.
func (e *NegotiationFailureError) Is(target error) bool {
	return target == ErrNegotiationFailure
}
