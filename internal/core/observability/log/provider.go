package log

import "github.com/google/wire"

// Provide is the wire provider set for the logger.
var Provide = wire.NewSet(
	New,
	wire.Bind(new(Log), new(*Logger)),
)
