package pdu

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/lunixbochs/struc"
)

// NegotiationType represents the type field in RDP negotiation structures (MS-RDPBCGR 2.2.1.1).
type NegotiationType uint8

const (
	// NegotiationTypeRequest TYPE_RDP_NEG_REQ
	NegotiationTypeRequest NegotiationType = 0x01

	// NegotiationTypeResponse TYPE_RDP_NEG_RSP
	NegotiationTypeResponse NegotiationType = 0x02

	// NegotiationTypeFailure TYPE_RDP_NEG_FAILURE
	NegotiationTypeFailure NegotiationType = 0x03
)

// IsRequest returns true if the type is a negotiation request.
func (t NegotiationType) IsRequest() bool {
	return t == NegotiationTypeRequest
}

// IsResponse returns true if the type is a negotiation response.
func (t NegotiationType) IsResponse() bool {
	return t == NegotiationTypeResponse
}

// IsFailure returns true if the type is a negotiation failure.
func (t NegotiationType) IsFailure() bool {
	return t == NegotiationTypeFailure
}

// NegotiationRequestFlag Protocol flags.
type NegotiationRequestFlag uint8

const (
	// NegReqFlagRestrictedAdminModeRequired RESTRICTED_ADMIN_MODE_REQUIRED
	NegReqFlagRestrictedAdminModeRequired NegotiationRequestFlag = 0x01

	// NegReqFlagRedirectedAuthenticationModeRequired REDIRECTED_AUTHENTICATION_MODE_REQUIRED
	NegReqFlagRedirectedAuthenticationModeRequired NegotiationRequestFlag = 0x02

	// NegReqFlagCorrelationInfoPresent CORRELATION_INFO_PRESENT
	NegReqFlagCorrelationInfoPresent NegotiationRequestFlag = 0x08
)

// IsRestrictedAdminModeRequired returns true if restricted admin mode is required.
func (f NegotiationRequestFlag) IsRestrictedAdminModeRequired() bool {
	return f&NegReqFlagRestrictedAdminModeRequired == NegReqFlagRestrictedAdminModeRequired
}

// IsRedirectedAuthenticationModeRequired returns true if redirected authentication mode is required.
func (f NegotiationRequestFlag) IsRedirectedAuthenticationModeRequired() bool {
	return f&NegReqFlagRedirectedAuthenticationModeRequired == NegReqFlagRedirectedAuthenticationModeRequired
}

// IsCorrelationInfoPresent returns true if correlation info is present.
func (f NegotiationRequestFlag) IsCorrelationInfoPresent() bool {
	return f&NegReqFlagCorrelationInfoPresent == NegReqFlagCorrelationInfoPresent
}

// NegotiationProtocol Supported security protocol.
type NegotiationProtocol uint32

const (
	// NegotiationProtocolRDP PROTOCOL_RDP
	NegotiationProtocolRDP NegotiationProtocol = 0x00000000

	// NegotiationProtocolSSL PROTOCOL_SSL
	NegotiationProtocolSSL NegotiationProtocol = 0x00000001

	// NegotiationProtocolHybrid PROTOCOL_HYBRID
	NegotiationProtocolHybrid NegotiationProtocol = 0x00000002

	// NegotiationProtocolRDSTLS PROTOCOL_RDSTLS
	NegotiationProtocolRDSTLS NegotiationProtocol = 0x00000004

	// NegotiationProtocolHybridEx PROTOCOL_HYBRID_EX
	NegotiationProtocolHybridEx NegotiationProtocol = 0x00000008
)

// IsRDP returns true if the protocol is standard RDP security.
func (p NegotiationProtocol) IsRDP() bool {
	return p == NegotiationProtocolRDP
}

// IsSSL returns true if the protocol is TLS security.
func (p NegotiationProtocol) IsSSL() bool {
	return p == NegotiationProtocolSSL
}

// IsHybrid returns true if the protocol is CredSSP (TLS + NLA).
func (p NegotiationProtocol) IsHybrid() bool {
	return p == NegotiationProtocolHybrid
}

// IsRDSTLS returns true if the protocol is RDSTLS.
func (p NegotiationProtocol) IsRDSTLS() bool {
	return p == NegotiationProtocolRDSTLS
}

// IsHybridEx returns true if the protocol is CredSSP with Early User Auth.
func (p NegotiationProtocol) IsHybridEx() bool {
	return p == NegotiationProtocolHybridEx
}

// NegotiationRequest RDP Negotiation Request (RDP_NEG_REQ).
type NegotiationRequest struct {
	Flags              NegotiationRequestFlag // Protocol flags
	RequestedProtocols NegotiationProtocol    // supported security protocols
}

// wireNegotiationRequest is the fixed 8-byte RDP_NEG_REQ layout, packed
// with struc so the field order and endianness live in struct tags rather
// than a sequence of binary.Write calls.
type wireNegotiationRequest struct {
	Type               uint8
	Flags              uint8
	Length             uint16 `struc:"little"`
	RequestedProtocols uint32 `struc:"little"`
}

// Serialize encodes the negotiation request to wire format.
func (r NegotiationRequest) Serialize() []byte {
	wire := wireNegotiationRequest{
		Type:               uint8(NegotiationTypeRequest),
		Flags:              uint8(r.Flags),
		Length:             8,
		RequestedProtocols: uint32(r.RequestedProtocols),
	}

	buf := new(bytes.Buffer)
	_ = struc.Pack(buf, &wire)

	return buf.Bytes()
}

// CorrelationInfo RDP Correlation Info (RDP_NEG_CORRELATION_INFO).
type CorrelationInfo struct {
	correlationID []byte
}

// SetCorrelationID sets the correlation ID and validates it per MS-RDPBCGR 2.2.1.1.2.
func (i *CorrelationInfo) SetCorrelationID(correlationID []byte) error {
	if len(correlationID) != 16 {
		return ErrInvalidCorrelationID
	}

	// The first byte in the array SHOULD NOT have a value of 0x00 or 0xF4
	if correlationID[0] == 0x00 || correlationID[0] == 0xF4 {
		return ErrInvalidCorrelationID
	}

	// value 0x0D SHOULD NOT be contained in any of the bytes
	for _, b := range correlationID {
		if b == 0x0D {
			return ErrInvalidCorrelationID
		}
	}

	i.correlationID = correlationID

	return nil
}

// Serialize encodes the correlation info to wire format.
func (i CorrelationInfo) Serialize() []byte {
	const corrInfoLen = uint16(36)

	buf := bytes.NewBuffer(make([]byte, 0, corrInfoLen))

	buf.Write([]byte{
		0x06, // type TYPE_RDP_CORRELATION_INFO
		0x00, // flags
	})

	// length (always 36 bytes)
	_ = binary.Write(buf, binary.LittleEndian, corrInfoLen)

	// correlationId
	if i.correlationID == nil {
		buf.Write(make([]byte, 16))
	} else {
		buf.Write(i.correlationID)
	}

	// reserved
	buf.Write(make([]byte, 16))

	return buf.Bytes()
}

// NegotiationResponseFlag RDP Negotiation Response flags
type NegotiationResponseFlag uint8

const (
	// NegotiationResponseFlagECDBSupported EXTENDED_CLIENT_DATA_SUPPORTED
	NegotiationResponseFlagECDBSupported NegotiationResponseFlag = 0x01

	// NegotiationResponseFlagGFXSupported DYNVC_GFX_PROTOCOL_SUPPORTED
	NegotiationResponseFlagGFXSupported NegotiationResponseFlag = 0x02

	// NegotiationResponseFlagAdminModeSupported RESTRICTED_ADMIN_MODE_SUPPORTED
	NegotiationResponseFlagAdminModeSupported NegotiationResponseFlag = 0x08

	// NegotiationResponseFlagAuthModeSupported REDIRECTED_AUTHENTICATION_MODE_SUPPORTED
	NegotiationResponseFlagAuthModeSupported NegotiationResponseFlag = 0x10
)

// IsExtendedClientDataSupported returns true if extended client data is supported.
func (f NegotiationResponseFlag) IsExtendedClientDataSupported() bool {
	return f&NegotiationResponseFlagECDBSupported == NegotiationResponseFlagECDBSupported
}

// IsGFXProtocolSupported returns true if GFX protocol is supported.
func (f NegotiationResponseFlag) IsGFXProtocolSupported() bool {
	return f&NegotiationResponseFlagGFXSupported == NegotiationResponseFlagGFXSupported
}

// IsRestrictedAdminModeSupported returns true if restricted admin mode is supported.
func (f NegotiationResponseFlag) IsRestrictedAdminModeSupported() bool {
	return f&NegotiationResponseFlagAdminModeSupported == NegotiationResponseFlagAdminModeSupported
}

// IsRedirectedAuthModeSupported returns true if redirected auth mode is supported.
func (f NegotiationResponseFlag) IsRedirectedAuthModeSupported() bool {
	return f&NegotiationResponseFlagAuthModeSupported == NegotiationResponseFlagAuthModeSupported
}

// String returns a human-readable representation of the response flags.
func (f NegotiationResponseFlag) String() string {
	var features []string

	if f.IsExtendedClientDataSupported() {
		features = append(features, "EXTENDED_CLIENT_DATA_SUPPORTED")
	}
	if f.IsGFXProtocolSupported() {
		features = append(features, "DYNVC_GFX_PROTOCOL_SUPPORTED")
	}
	if f.IsRestrictedAdminModeSupported() {
		features = append(features, "RESTRICTED_ADMIN_MODE_SUPPORTED")
	}
	if f.IsRedirectedAuthModeSupported() {
		features = append(features, "REDIRECTED_AUTHENTICATION_MODE_SUPPORTED")
	}

	return strings.Join(features, ", ")
}

// NegotiationFailureCode RDP Negotiation Failure failureCode
type NegotiationFailureCode uint32

const (
	// NegotiationFailureCodeSSLRequired SSL_REQUIRED_BY_SERVER
	NegotiationFailureCodeSSLRequired NegotiationFailureCode = 0x00000001

	// NegotiationFailureCodeSSLNotAllowed SSL_NOT_ALLOWED_BY_SERVER
	NegotiationFailureCodeSSLNotAllowed NegotiationFailureCode = 0x00000002

	// NegotiationFailureCodeSSLCertNotOnServer SSL_CERT_NOT_ON_SERVER
	NegotiationFailureCodeSSLCertNotOnServer NegotiationFailureCode = 0x00000003

	// NegotiationFailureCodeInconsistentFlags INCONSISTENT_FLAGS
	NegotiationFailureCodeInconsistentFlags NegotiationFailureCode = 0x00000004

	// NegotiationFailureCodeHybridRequired HYBRID_REQUIRED_BY_SERVER
	NegotiationFailureCodeHybridRequired NegotiationFailureCode = 0x00000005

	// NegotiationFailureCodeSSLWithUserAuthRequired SSL_WITH_USER_AUTH_REQUIRED_BY_SERVER
	NegotiationFailureCodeSSLWithUserAuthRequired NegotiationFailureCode = 0x00000006
)

// NegotiationFailureCodeMap maps failure codes to their string representations.
var NegotiationFailureCodeMap = map[NegotiationFailureCode]string{
	NegotiationFailureCodeSSLRequired:             "SSL_REQUIRED_BY_SERVER",
	NegotiationFailureCodeSSLNotAllowed:           "SSL_NOT_ALLOWED_BY_SERVER",
	NegotiationFailureCodeSSLCertNotOnServer:      "SSL_CERT_NOT_ON_SERVER",
	NegotiationFailureCodeInconsistentFlags:       "INCONSISTENT_FLAGS",
	NegotiationFailureCodeHybridRequired:          "HYBRID_REQUIRED_BY_SERVER",
	NegotiationFailureCodeSSLWithUserAuthRequired: "SSL_WITH_USER_AUTH_REQUIRED_BY_SERVER",
}

// String returns the string representation of the failure code.
func (c NegotiationFailureCode) String() string {
	return NegotiationFailureCodeMap[c]
}

// ClientConnectionRequest Client X.224 Connection Request PDU. RoutingToken
// and Cookie are mutually exclusive on the wire; RoutingToken wins when
// both are set (MS-RDPBCGR 2.2.1.1 permits only one identification line per
// request).
type ClientConnectionRequest struct {
	RoutingToken      string // written verbatim; caller supplies its own CRLF terminator
	Cookie            string
	CookieMaxLength   int // cookie is truncated to this many bytes before CRLF is appended; 0 means unbounded
	NegotiationRequest NegotiationRequest // RDP Negotiation Request
	CorrelationInfo    CorrelationInfo    // Correlation Info
}

// Serialize encodes the connection request to wire format.
func (pdu *ClientConnectionRequest) Serialize() []byte {
	const (
		crlf         = "\r\n"
		cookieHeader = "Cookie: mstshash="
	)

	buf := new(bytes.Buffer)

	// routingToken or cookie, never both
	switch {
	case pdu.RoutingToken != "":
		buf.WriteString(pdu.RoutingToken)
	case pdu.Cookie != "":
		cookie := pdu.Cookie
		if pdu.CookieMaxLength > 0 && len(cookie) > pdu.CookieMaxLength {
			cookie = cookie[:pdu.CookieMaxLength]
		}
		buf.WriteString(cookieHeader + strings.TrimRight(cookie, crlf) + crlf)
	}

	// rdpNegReq
	buf.Write(pdu.NegotiationRequest.Serialize())

	// rdpCorrelationInfo
	if pdu.NegotiationRequest.Flags.IsCorrelationInfoPresent() {
		buf.Write(pdu.CorrelationInfo.Serialize())
	}

	return buf.Bytes()
}

// NegotiationResponse is the Server X.224 Connection Confirm's RDP_NEG_RSP
// body (MS-RDPBCGR 2.2.1.2.1): the server's successful protocol selection.
type NegotiationResponse struct {
	Flags            NegotiationResponseFlag
	SelectedProtocol NegotiationProtocol
}

// wireNegotiationBody is the 7-byte tail shared by RDP_NEG_RSP and
// RDP_NEG_FAILURE once the type byte has been consumed: flags, length, and
// a single uint32 value (selectedProtocol or failureCode).
type wireNegotiationBody struct {
	Flags  uint8
	Length uint16 `struc:"little"`
	Value  uint32 `struc:"little"`
}

// Serialize encodes the negotiation response to wire format.
func (r NegotiationResponse) Serialize() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(NegotiationTypeResponse))

	body := wireNegotiationBody{Flags: uint8(r.Flags), Length: 8, Value: uint32(r.SelectedProtocol)}
	_ = struc.Pack(buf, &body)

	return buf.Bytes()
}

// Deserialize decodes a negotiation response body (the type byte has
// already been consumed by DecodeNegotiationData).
func (r *NegotiationResponse) Deserialize(wire io.Reader) error {
	var body wireNegotiationBody
	if err := struc.Unpack(wire, &body); err != nil {
		return err
	}

	r.Flags = NegotiationResponseFlag(body.Flags)
	r.SelectedProtocol = NegotiationProtocol(body.Value)

	return nil
}

// NegotiationFailure is the Server X.224 Connection Confirm's RDP_NEG_FAILURE
// body (MS-RDPBCGR 2.2.1.2.2): the server's rejection of every protocol the
// client requested.
type NegotiationFailure struct {
	FailureCode NegotiationFailureCode
}

// Serialize encodes the negotiation failure to wire format.
func (f NegotiationFailure) Serialize() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(NegotiationTypeFailure))

	body := wireNegotiationBody{Flags: 0x00, Length: 8, Value: uint32(f.FailureCode)}
	_ = struc.Pack(buf, &body)

	return buf.Bytes()
}

// Deserialize decodes a negotiation failure body (the type byte has
// already been consumed by DecodeNegotiationData).
func (f *NegotiationFailure) Deserialize(wire io.Reader) error {
	var body wireNegotiationBody
	if err := struc.Unpack(wire, &body); err != nil {
		return err
	}

	f.FailureCode = NegotiationFailureCode(body.Value)

	return nil
}

// NegotiationData is produced by DecodeNegotiationData: either a
// *NegotiationResponse or a *NegotiationFailure.
type NegotiationData interface {
	isNegotiationData()
}

func (*NegotiationResponse) isNegotiationData() {}
func (*NegotiationFailure) isNegotiationData()  {}

// DecodeNegotiationData reads the type byte of an rdpNegData block and
// dispatches to the matching body decoder, returning the decoded value as
// a NegotiationData. Callers that have already determined there is no
// rdpNegData (the Connection Confirm TPDU's LI left no trailing bytes)
// should not call this function at all; io.EOF from the very first read
// signals exactly that condition.
func DecodeNegotiationData(wire io.Reader) (NegotiationData, error) {
	var typ NegotiationType
	if err := binary.Read(wire, binary.LittleEndian, &typ); err != nil {
		return nil, err
	}

	switch {
	case typ.IsResponse():
		var r NegotiationResponse
		if err := r.Deserialize(wire); err != nil {
			return nil, err
		}
		return &r, nil
	case typ.IsFailure():
		var f NegotiationFailure
		if err := f.Deserialize(wire); err != nil {
			return nil, err
		}
		return &f, nil
	default:
		return nil, ErrUnknownNegotiationType
	}
}

// preconnectionPDUV2MinSize is the value always carried in cbSize,
// regardless of whether a blob follows.
const preconnectionPDUV2MinSize = 18

// preconnectionPDUVersion2 is the only version this codec emits; sending
// v2 unconditionally costs 2 bytes over v1 and lets the blob be omitted.
const preconnectionPDUVersion2 = 0x00000002

// PreconnectionPDU is the Hyper-V preconnection information blob sent
// ahead of the TPKT/X.224 exchange to identify the target VM to a
// Connection Broker. Not part of MS-RDPBCGR proper.
type PreconnectionPDU struct {
	ID   uint32
	Blob string // UTF-16LE-encoded with a NUL terminator when non-empty
}

// Serialize encodes the preconnection PDU (always as v2) to wire format.
func (p PreconnectionPDU) Serialize() []byte {
	var wszPCB []byte
	var cchPCB uint16

	if p.Blob != "" {
		units := utf16.Encode([]rune(p.Blob))
		cchPCB = uint16(len(units)) + 1 // + NUL terminator

		wszPCB = make([]byte, 0, int(cchPCB)*2)
		for _, u := range units {
			wszPCB = append(wszPCB, byte(u), byte(u>>8))
		}
		wszPCB = append(wszPCB, 0x00, 0x00) // terminator
	}

	buf := bytes.NewBuffer(make([]byte, 0, preconnectionPDUV2MinSize+len(wszPCB)))
	_ = binary.Write(buf, binary.LittleEndian, uint32(preconnectionPDUV2MinSize))
	_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // Flags
	_ = binary.Write(buf, binary.LittleEndian, uint32(preconnectionPDUVersion2))
	_ = binary.Write(buf, binary.LittleEndian, p.ID)
	_ = binary.Write(buf, binary.LittleEndian, cchPCB)
	buf.Write(wszPCB)

	return buf.Bytes()
}
