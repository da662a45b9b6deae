package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ibs-source/counterlog/internal/log"
	"github.com/ibs-source/counterlog/internal/reading"
)

// replayTimeout bounds one replay write through the sink
const replayTimeout = 30 * time.Second

// Record is the self-describing on-disk format of one failed batch
type Record struct {
	ID       string                  `json:"id"`
	FailedAt time.Time               `json:"failed_at"`
	Reason   string                  `json:"reason"`
	Readings []reading.DeviceReading `json:"readings"`
}

// DLQ is a durable file-backed spool of failed batches. Each batch becomes
// one atomically renamed file with a time-ordered name; a background loop
// replays the oldest files through the sink and deletes them on success.
type DLQ struct {
	path     string
	sink     Sink
	interval time.Duration
	maxFiles int
	log      *log.Logger

	quit      chan struct{}
	done      chan struct{}
	started   bool
	closeOnce sync.Once
}

// NewDLQ prepares the spool directory
func NewDLQ(path string, sink Sink, interval time.Duration, maxFiles int, logger *log.Logger) (*DLQ, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create dlq directory %s: %w", path, err)
	}
	return &DLQ{
		path:     path,
		sink:     sink,
		interval: interval,
		maxFiles: maxFiles,
		log:      logger,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the background replay loop
func (d *DLQ) Start() {
	d.started = true
	go d.replayLoop()
}

// Spill durably stores a failed batch: marshal, write to a tmp file, fsync,
// rename to the final time-ordered name.
func (d *DLQ) Spill(batch []reading.DeviceReading, reason error) error {
	record := Record{
		ID:       uuid.NewString(),
		FailedAt: time.Now(),
		Readings: batch,
	}
	if reason != nil {
		record.Reason = reason.Error()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq record: %w", err)
	}

	name := fmt.Sprintf("dlq-%020d-%s.json", time.Now().UnixNano(), record.ID[:8])
	tmpPath := filepath.Join(d.path, name+".tmp")
	finalPath := filepath.Join(d.path, name)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) // #nosec G304 - path is config-derived
	if err != nil {
		return fmt.Errorf("failed to create dlq tmp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write dlq file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync dlq file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close dlq file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("failed to finalize dlq file: %w", err)
	}

	d.log.Warn("Spilled batch of %d readings to DLQ (%s): %s", len(batch), name, record.Reason)
	return nil
}

// PendingCount reports the number of unreplayed batch files
func (d *DLQ) PendingCount() int {
	return len(d.pendingFiles())
}

// pendingFiles lists finalized batch files in time order
func (d *DLQ) pendingFiles() []string {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		d.log.Error("Failed to scan DLQ directory: %v", err)
		return nil
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "dlq-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files
}

func (d *DLQ) replayLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			d.ReplayPending()
		}
	}
}

// ReplayPending pushes up to maxFiles of the oldest batches through the
// sink. A failed replay leaves its file in place and stops the scan; the
// sink is evidently still down.
func (d *DLQ) ReplayPending() {
	files := d.pendingFiles()
	if len(files) == 0 {
		return
	}
	if len(files) > d.maxFiles {
		files = files[:d.maxFiles]
	}

	for _, name := range files {
		if !d.replayFile(name) {
			return
		}
	}
}

func (d *DLQ) replayFile(name string) bool {
	path := filepath.Join(d.path, name)

	data, err := os.ReadFile(path) // #nosec G304 - file name comes from our own scan
	if err != nil {
		d.log.Error("Failed to read DLQ file %s: %v", name, err)
		return false
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		// A corrupt record can never replay; move it aside so the scan
		// does not wedge on it forever.
		d.log.Error("Corrupt DLQ file %s, renaming to .corrupt: %v", name, err)
		_ = os.Rename(path, path+".corrupt")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()

	if err := d.sink.WriteBatch(ctx, record.Readings); err != nil {
		d.log.Warn("DLQ replay of %s failed, keeping file: %v", name, err)
		return false
	}

	if err := os.Remove(path); err != nil {
		d.log.Error("Failed to remove replayed DLQ file %s: %v", name, err)
	} else {
		d.log.Info("Replayed DLQ batch %s (%d readings)", name, len(record.Readings))
	}
	return true
}

// Close stops the replay loop
func (d *DLQ) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		if d.started {
			<-d.done
		}
	})
}
