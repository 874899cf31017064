package x224

import "errors"

var (
	// ErrSmallConnectionConfirmLength indicates the CC TPDU's length
	// indicator is not one of the two values ConnectionConfirm.Deserialize
	// accepts (6: no rdpNegData, 14: with rdpNegData).
	ErrSmallConnectionConfirmLength = errors.New("small connection confirm length")

	// ErrWrongConnectionConfirmCode indicates the TPDU code nibble in the
	// first header byte was not 0xD (Connection Confirm).
	ErrWrongConnectionConfirmCode = errors.New("wrong connection confirm code")

	// ErrWrongDataLength indicates a class-0 Data TPDU's length indicator
	// was not the fixed value of 2.
	ErrWrongDataLength = errors.New("wrong data length")

	// ErrInconsistentRequestLength indicates a received Connection
	// Request TPDU's length indicator does not match the remaining bytes
	// on the wire.
	ErrInconsistentRequestLength = errors.New("inconsistent connection request length")

	// ErrWrongConnectionRequestCode indicates the TPDU code nibble was
	// not 0xE (Connection Request).
	ErrWrongConnectionRequestCode = errors.New("wrong connection request code")
)
