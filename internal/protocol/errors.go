package protocol

// Rejection codes carried by action_rejected / error messages. None of these
// terminate the connection.
const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Authorization.
	ErrNotInWorld      = "E_NOT_IN_WORLD"
	ErrObserverNoWrite = "E_OBSERVER_CANNOT_MUTATE"
	ErrNoPermission    = "E_NO_PERMISSION"

	// Throttling.
	ErrRateLimit = "E_RATE_LIMIT"

	// Action validation.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrRegionTooLarge = "E_REGION_TOO_LARGE"
	ErrBatchTooLarge  = "E_BATCH_TOO_LARGE"
	ErrNothingToPaint = "E_NOTHING_TO_PAINT"
	ErrClipboardEmpty = "E_CLIPBOARD_EMPTY"
	ErrLabelNotFound  = "E_LABEL_NOT_FOUND"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrNotInWorld:      {},
	ErrObserverNoWrite: {},
	ErrNoPermission:    {},
	ErrRateLimit:       {},
	ErrBadRequest:      {},
	ErrRegionTooLarge:  {},
	ErrBatchTooLarge:   {},
	ErrNothingToPaint:  {},
	ErrClipboardEmpty:  {},
	ErrLabelNotFound:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
