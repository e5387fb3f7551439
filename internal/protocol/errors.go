package protocol

import "errors"

// ErrMalformedScene marks a snapshot whose geometry does not have the expected
// shape. A scene carrying it must not be loaded.
var ErrMalformedScene = errors.New("malformed scene")

const (
	// Protocol/transport validation.
	CodeProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Request layer.
	CodeBadRequest     = "E_BAD_REQUEST"
	CodeMalformedScene = "E_MALFORMED_SCENE"
	CodeNotFound       = "E_NOT_FOUND"
	CodeInvalidTarget  = "E_INVALID_TARGET"
	CodeBlocked        = "E_BLOCKED"
	CodeConflict       = "E_CONFLICT"
	CodeInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	CodeProtoBadRequest: {},
	CodeBadRequest:      {},
	CodeMalformedScene:  {},
	CodeNotFound:        {},
	CodeInvalidTarget:   {},
	CodeBlocked:         {},
	CodeConflict:        {},
	CodeInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
