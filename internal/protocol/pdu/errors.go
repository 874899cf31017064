package pdu

import "errors"

var (
	// ErrInvalidCorrelationID indicates a correlation ID rejected by
	// CorrelationInfo.SetCorrelationID (wrong length or a disallowed byte).
	ErrInvalidCorrelationID = errors.New("invalid correlationId")
	// ErrDeactivateAll indicates the server sent a Deactivate All PDU (MS-RDPBCGR 2.2.3.1).
	ErrDeactivateAll = errors.New("deactivate all")
	// ErrUnknownNegotiationType indicates an rdpNegData block's type byte
	// was neither TYPE_RDP_NEG_RSP nor TYPE_RDP_NEG_FAILURE.
	ErrUnknownNegotiationType = errors.New("unknown negotiation data type")
)
