package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrBadDirection    = "E_BAD_DIRECTION"
	ErrUnknownActor    = "E_UNKNOWN_ACTOR"
	ErrQueueFull       = "E_QUEUE_FULL"

	// Move outcomes reported back to the submitter.
	ErrBlocked   = "E_BLOCKED"
	ErrNoSupport = "E_NO_SUPPORT"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadDirection:    {},
	ErrUnknownActor:    {},
	ErrQueueFull:       {},
	ErrBlocked:         {},
	ErrNoSupport:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
