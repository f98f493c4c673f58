package protocol

const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrWorldNotFound   = "E_WORLD_NOT_FOUND"
	ErrNotViewing      = "E_NOT_VIEWING"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrWorldNotFound:   {},
	ErrNotViewing:      {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
