package utils

import (
	"go.uber.org/zap"

	"ledger-chat/internal/models"
)

// EventFrame encodes an event envelope, logging and returning nil on failure so
// broadcasters can skip the send.
func EventFrame(log *zap.Logger, event string, payload interface{}) []byte {
	frame, err := models.EncodeEnvelope(event, payload)
	if err != nil {
		LogError(log, err, "encode "+event)
		return nil
	}
	return frame
}

// LogError logs an error if it's not nil
func LogError(log *zap.Logger, err error, context string) {
	if err != nil && log != nil {
		log.Error(context, zap.Error(err))
	}
}
