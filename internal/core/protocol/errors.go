package protocol

import "errors"

// Codec errors
var (
	ErrUnknownOp    = errors.New("unknown protocol op")
	ErrEncodeFailed = errors.New("command encoding failed")
	ErrDecodeFailed = errors.New("frame decoding failed")
)
