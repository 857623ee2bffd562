package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Hold layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrInvalidLevel = "E_INVALID_LEVEL"
	ErrRadiusLimit  = "E_RADIUS_LIMIT"
	ErrHoldLimit    = "E_HOLD_LIMIT"
	ErrUnknownHold  = "E_UNKNOWN_HOLD"
	ErrRateLimit    = "E_RATE_LIMIT"
	ErrWorldClosed  = "E_WORLD_CLOSED"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrInvalidLevel:    {},
	ErrRadiusLimit:     {},
	ErrHoldLimit:       {},
	ErrUnknownHold:     {},
	ErrRateLimit:       {},
	ErrWorldClosed:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
