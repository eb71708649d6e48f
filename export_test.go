package telemex

// Test hooks: block until the background durability writers have applied all
// queued operations, so tests can assert on file contents deterministically.

func (e *Exporter) SyncWAL() { e.wal.Sync() }

func (e *Exporter) SyncDLQ() { e.dlq.Sync() }
