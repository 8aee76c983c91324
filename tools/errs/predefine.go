package errs

// Shared error codes for the storage and relay layers.
var (
	ErrRecordIsExist  = NewCodeError(1101, "record already exists")
	ErrRecordNotFound = NewCodeError(1102, "record not found")
	ErrStoreGone      = NewCodeError(1201, "store unavailable")
	ErrRelayGone      = NewCodeError(1301, "relay unavailable")
)
