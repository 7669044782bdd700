package vm

import "go.uber.org/zap"

// defaultLogger returns a no-op zap logger, used when a VMBuilder caller
// does not supply one — the logging analog of KTStephano-GVM's optional
// debugOut writer defaulting to silence.
func defaultLogger() *zap.Logger {
	return zap.NewNop()
}
