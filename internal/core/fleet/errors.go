package fleet

import "errors"

// Fleet errors
var (
	ErrBadConfig       = errors.New("invalid node configuration")
	ErrDuplicateNode   = errors.New("node name already registered")
	ErrNodeNotFound    = errors.New("node not found")
	ErrNodeUnavailable = errors.New("node is not connected")
	ErrNoAvailableNode = errors.New("no connected node available")
	ErrManagerClosed   = errors.New("node manager is closed")
	ErrSocketClosed    = errors.New("socket is closed")
	ErrAuthRejected    = errors.New("node rejected credentials")
)
