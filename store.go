package telemex // import "github.com/durastream/telemex"

import (
	"context"
)

// CollectionOptions describes how a target collection should be provisioned.
// The shape mirrors time-partitioned stores: records are clustered by a time
// field and grouped by low-cardinality metadata for compression.
type CollectionOptions struct {
	// TimeSeries requests time-partitioned storage when the backend offers it.
	TimeSeries bool
	// TimeField is the document field holding the record timestamp.
	TimeField string
	// MetaField is the document field holding the bucket-key metadata.
	MetaField string
	// RetentionDays expires documents after the given number of days.
	// Zero means infinite retention.
	RetentionDays int
}

// IndexOptions carries optional settings for secondary index creation.
type IndexOptions struct {
	// Name overrides the backend-generated index name.
	Name string
	// Sparse requests that documents missing the indexed fields be skipped.
	Sparse bool
}

// Store is the backend adapter contract. Any store offering ordered bulk
// insert and index provisioning satisfies it; the wire protocol is the
// adapter's concern. Implementations must be safe for concurrent use. Errors
// caused by a lost or absent connection should be wrapped with
// NewConnectionError so the exporter can schedule a reconnect.
type Store interface {
	// Connect establishes (or re-establishes) the backend connection.
	Connect(ctx context.Context) error
	// BulkInsert writes the documents to the named collection in order.
	BulkInsert(ctx context.Context, collection string, docs []map[string]any) error
	// EnsureCollection creates the collection if needed, applying opts.
	EnsureCollection(ctx context.Context, name string, opts CollectionOptions) error
	// CreateIndex creates a secondary index on the given keys.
	CreateIndex(ctx context.Context, collection string, keys []string, opts IndexOptions) error
	// Close tears down the connection.
	Close(ctx context.Context) error
}
