package negotiate

import "github.com/rcarmo/rdp-negotiate/internal/protocol/pdu"

// EncryptionMethod is the legacy MS-RDPBCGR 2.2.1.4.3 Standard Security
// encryption method bitmask, populated only when standard RDP security was
// selected (no TLS/NLA).
type EncryptionMethod uint32

const (
	Encryption40Bit  EncryptionMethod = 0x00000001
	Encryption128Bit EncryptionMethod = 0x00000002
	EncryptionFIPS   EncryptionMethod = 0x00000010
)

// EncryptionLevel is the legacy Standard Security encryption level.
type EncryptionLevel uint32

const (
	EncryptionLevelClientCompatible EncryptionLevel = 0x00000002
)

// Settings is the read-only result of a completed negotiation, populated
// once Connect reaches StateFinal. The MCS/licensing sequence that
// consumes it runs outside this package.
type Settings struct {
	RequestedProtocols pdu.NegotiationProtocol
	SelectedProtocol   pdu.NegotiationProtocol
	Flags              pdu.NegotiationResponseFlag

	// Populated only when SelectedProtocol is standard RDP: the classic
	// encryption negotiation applies in place of TLS/CredSSP.
	EncryptionEnabled bool
	EncryptionMethods EncryptionMethod
	EncryptionLevel   EncryptionLevel
}
