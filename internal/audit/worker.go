package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"github.com/openvas-vts/vts-replay/internal/models"
	"github.com/sirupsen/logrus"
)

// Worker processes audit entries asynchronously with cryptographic hash chaining
// Uses a single goroutine to ensure sequential processing and deterministic hashing
// Supports out-of-order entry completion while maintaining hash chain integrity
type Worker struct {
	entries     chan *models.OperationEntry
	storage     Storage
	prevHash    string
	genesisSeed string
	done        chan struct{}

	// Sequence tracking for out-of-order handling
	expectedSeq    uint64
	pendingEntries map[uint64]*models.OperationEntry
	mu             sync.Mutex

	// Configuration
	maxPendingEntries int
}

// NewWorker creates and starts a new audit worker
// genesisSeed is used as the PrevHash for the first entry
// bufferSize determines how many entries can be queued before blocking
func NewWorker(storage Storage, genesisSeed string, bufferSize int) *Worker {
	w := &Worker{
		entries:           make(chan *models.OperationEntry, bufferSize),
		storage:           storage,
		prevHash:          computeGenesisHash(genesisSeed),
		genesisSeed:       genesisSeed,
		done:              make(chan struct{}),
		expectedSeq:       0,
		pendingEntries:    make(map[uint64]*models.OperationEntry),
		maxPendingEntries: 1000, // Prevent unbounded memory growth
	}

	// Start the worker goroutine
	go w.run()

	return w
}

// Log queues an audit entry for processing
// Non-blocking if buffer has space, blocks if buffer is full
func (w *Worker) Log(entry *models.OperationEntry) {
	w.entries <- entry
}

// Shutdown gracefully stops the worker
// Processes all remaining entries in the queue before closing
func (w *Worker) Shutdown() {
	close(w.entries)
	<-w.done
}

// run is the main worker loop that processes entries sequentially
// Handles out-of-order entries by maintaining a pending queue
func (w *Worker) run() {
	defer close(w.done)

	for entry := range w.entries {
		w.mu.Lock()

		// Check if this is the next expected sequence
		if entry.SequenceID == w.expectedSeq {
			// Process immediately
			w.processEntry(entry)
			w.expectedSeq++

			// Check for any pending entries that are now in sequence
			for {
				if nextEntry, exists := w.pendingEntries[w.expectedSeq]; exists {
					w.processEntry(nextEntry)
					delete(w.pendingEntries, w.expectedSeq)
					w.expectedSeq++
				} else {
					break
				}
			}

			// Log warning if pending queue is growing
			if len(w.pendingEntries) > 0 && len(w.pendingEntries)%100 == 0 {
				logrus.WithField("component", "audit").Warnf("pending queue size: %d entries", len(w.pendingEntries))
			}
		} else {
			// Out of order - store for later processing
			if len(w.pendingEntries) >= w.maxPendingEntries {
				logrus.WithField("component", "audit").Errorf("pending queue exceeded max size (%d), processing out of order: seq=%d, expected=%d",
					w.maxPendingEntries, entry.SequenceID, w.expectedSeq)
				// Process anyway to prevent blocking (fail-open behavior)
				w.processEntry(entry)
				w.expectedSeq = entry.SequenceID + 1
			} else {
				w.pendingEntries[entry.SequenceID] = entry
			}
		}

		w.mu.Unlock()
	}

	// Process any remaining pending entries on shutdown
	w.mu.Lock()
	if len(w.pendingEntries) > 0 {
		logrus.WithField("component", "audit").Warnf("processing %d pending entries on shutdown (out of sequence order)", len(w.pendingEntries))
		// Process remaining entries (may be out of sequence due to missing entries)
		// This is fail-open behavior to ensure no data is lost
		for seq, entry := range w.pendingEntries {
			logrus.WithField("component", "audit").Warnf("out-of-sequence entry: seq=%d, expected=%d", seq, w.expectedSeq)
			w.processEntry(entry)
		}
		// Clear the pending map
		w.pendingEntries = make(map[uint64]*models.OperationEntry)
	}
	w.mu.Unlock()

	// Close storage on shutdown
	if err := w.storage.Close(); err != nil {
		logrus.WithField("component", "audit").Errorf("failed to close storage: %v", err)
	}
}

// processEntry handles the actual processing of a single audit entry
// Must be called with w.mu held
func (w *Worker) processEntry(entry *models.OperationEntry) {
	// Set the previous hash
	entry.PrevHash = w.prevHash

	// Compute the hash for this entry
	entry.Hash = w.computeHash(entry)

	// Write to storage
	if err := w.storage.Write(entry); err != nil {
		logrus.WithField("component", "audit").Errorf("failed to write entry (seq=%d): %v", entry.SequenceID, err)
		// Log and continue to maintain fail-open behavior.
		return
	}

	// Update previous hash for next entry
	w.prevHash = entry.Hash
}

// computeHash generates the SHA-256 hash for an audit entry.
// Hash = SHA256(Timestamp + Event + ThreadID + Service + URI + Dir + Error + PrevHash)
func (w *Worker) computeHash(entry *models.OperationEntry) string {
	h := sha256.New()

	h.Write([]byte(entry.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00")))
	h.Write([]byte(entry.Event))
	h.Write([]byte(strconv.FormatUint(entry.ThreadID, 10)))
	h.Write([]byte(entry.Detail.Service))
	h.Write([]byte(entry.Detail.URI))
	h.Write([]byte(entry.Detail.Dir))
	h.Write([]byte(entry.Detail.Error))
	h.Write([]byte(entry.PrevHash))

	return hex.EncodeToString(h.Sum(nil))
}

// computeGenesisHash creates the initial hash from the genesis seed
func computeGenesisHash(seed string) string {
	h := sha256.New()
	h.Write([]byte(fmt.Sprintf("genesis:%s", seed)))
	return hex.EncodeToString(h.Sum(nil))
}
