// Package storage provides the batching write pipeline: a bounded queue in
// front of a TimescaleDB sink, with a file-backed dead-letter queue for
// batches that fail after retries.
package storage

import (
	"context"

	"github.com/ibs-source/counterlog/internal/reading"
)

// Sink persists reading batches. Implementations must be safe for
// concurrent use; the batch writer and the DLQ replay loop share one sink.
type Sink interface {
	WriteBatch(ctx context.Context, batch []reading.DeviceReading) error
	TestConnection(ctx context.Context) error
	Close()
}
