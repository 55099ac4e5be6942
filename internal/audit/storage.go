// Package audit records the recorder's own operation — connections
// accepted, classified and closed, TestCases written — as a hash-chained
// JSON-Lines log that cmd/verify can check for tampering after the fact.
package audit

import (
	"github.com/openvas-vts/vts-replay/internal/models"
)

// Storage defines the interface for persisting audit entries.
// Implementations must be thread-safe.
type Storage interface {
	// Write persists a single audit entry.
	Write(entry *models.OperationEntry) error

	// Close cleanly shuts down the storage. Must be called before
	// application termination.
	Close() error
}
