package stats

import (
	"context"
	"fmt"

	"cloud.google.com/go/spanner"
)

// SpannerSink mirrors PostgresSink for an operator already standardized on
// Cloud Spanner for the rest of their fleet's durable state.
type SpannerSink struct {
	client *spanner.Client
}

// NewSpannerSink connects to the given Spanner database path
// ("projects/P/instances/I/databases/D"). The SearchStats table is
// expected to already exist (Spanner schema changes are DDL operations
// outside this sink's scope).
func NewSpannerSink(ctx context.Context, dbPath string) (*SpannerSink, error) {
	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("stats: spanner client: %w", err)
	}
	return &SpannerSink{client: client}, nil
}

func (s *SpannerSink) Write(ctx context.Context, snap Snapshot) error {
	_, err := s.client.Apply(ctx, []*spanner.Mutation{
		spanner.Insert("SearchStats",
			[]string{"SearchID", "RecordedAt", "Status", "PendCount", "Drate", "HitRate", "DroppedObj"},
			[]interface{}{snap.SearchID, spanner.CommitTimestamp, snap.Status, int64(snap.PendCount), snap.Drate, snap.HitRate, int64(snap.DroppedObj)},
		),
	})
	return err
}

func (s *SpannerSink) Close() error {
	s.client.Close()
	return nil
}
