package app

import (
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// supervisorHook logs suture lifecycle events through zap.
func supervisorHook(logger *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := make([]zap.Field, 0, len(e.Map()))
		for k, v := range e.Map() {
			fields = append(fields, zap.Any(k, v))
		}
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
			logger.Error(e.String(), fields...)
		default:
			logger.Warn(e.String(), fields...)
		}
	}
}
