package ocache

import (
	"bytes"
	"context"
	"fmt"
	"io"

	supabase "github.com/supabase-community/supabase-go"

	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/sig"
)

// SupabaseOAttrStore ships materialized output-attribute payloads to a
// managed Supabase Storage bucket, for devices that want off-device
// retention/audit of computed attributes alongside their Postgres-backed
// metadata (SPEC_FULL.md §4.C). Chosen as an alternative to RedisOAttrStore,
// never both, per Fcache.
type SupabaseOAttrStore struct {
	client *supabase.Client
	bucket string
}

// NewSupabaseOAttrStore wraps an existing Supabase client; bucket must
// already exist (created out of band, e.g. via the Supabase console).
func NewSupabaseOAttrStore(client *supabase.Client, bucket string) *SupabaseOAttrStore {
	return &SupabaseOAttrStore{client: client, bucket: bucket}
}

func (s *SupabaseOAttrStore) objectPath(fsig sig.Sig128, oid odisk.OID, name string) string {
	return fmt.Sprintf("%s/%016x/%s", fsig.String(), uint64(oid), name)
}

func (s *SupabaseOAttrStore) Put(_ context.Context, fsig sig.Sig128, oid odisk.OID, name string, _ sig.Sig128, value []byte) error {
	_, err := s.client.Storage.UploadFile(s.bucket, s.objectPath(fsig, oid, name), bytes.NewReader(value))
	if err != nil {
		return fmt.Errorf("supabasestore: upload: %w", err)
	}
	return nil
}

func (s *SupabaseOAttrStore) Get(_ context.Context, fsig sig.Sig128, oid odisk.OID, name string, _ sig.Sig128) ([]byte, bool, error) {
	rc, err := s.client.Storage.DownloadFile(s.bucket, s.objectPath(fsig, oid, name))
	if err != nil {
		// The storage-go client surfaces a missing object as a plain API
		// error, not a typed not-found; treat any download failure as a
		// miss so the caller falls back to recomputing the attribute.
		return nil, false, nil
	}
	b, err := io.ReadAll(bytes.NewReader(rc))
	if err != nil {
		return nil, false, fmt.Errorf("supabasestore: read: %w", err)
	}
	return b, true, nil
}
