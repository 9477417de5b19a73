//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/audiowire/audiowire/internal/core/observability/log"
)

func ProvideLogger(level log.Level) *log.Logger {
	wire.Build(log.Provide)
	return log.New(level)
}
