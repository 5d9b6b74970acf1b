package keystore

import (
	"github.com/sirupsen/logrus"
)

// AuditLogger records every credential operation. Seeds never reach the log.
type AuditLogger struct {
	entry *logrus.Entry
}

func NewAuditLogger(logger *logrus.Logger) *AuditLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuditLogger{entry: logger.WithField("component", "audit")}
}

func (a *AuditLogger) LogOperation(operation, publicKey, details string) {
	a.entry.WithFields(logrus.Fields{
		"event":      operation,
		"public_key": publicKey,
		"status":     "SUCCESS",
	}).Info(details)
}

func (a *AuditLogger) LogError(operation, publicKey string, err error) {
	a.entry.WithFields(logrus.Fields{
		"event":      operation,
		"public_key": publicKey,
		"status":     "FAILED",
	}).WithError(err).Warn("keystore operation failed")
}
