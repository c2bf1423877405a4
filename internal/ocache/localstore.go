package ocache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/sig"
)

// LocalOAttrStore is the spec's default out-of-line attribute backend:
// plain files under <root>/<hex_fsig>/oattr/<hex_oid>/<attrname>.
type LocalOAttrStore struct {
	root string
}

// NewLocalOAttrStore builds a store rooted at root (the same root OCache
// was initialized with).
func NewLocalOAttrStore(root string) *LocalOAttrStore {
	return &LocalOAttrStore{root: root}
}

func (s *LocalOAttrStore) pathFor(fsig sig.Sig128, oid odisk.OID, name string) string {
	return filepath.Join(s.root, fsig.String(), "oattr", fmt.Sprintf("%016x", uint64(oid)), name)
}

func (s *LocalOAttrStore) Put(_ context.Context, fsig sig.Sig128, oid odisk.OID, name string, _ sig.Sig128, value []byte) error {
	p := s.pathFor(fsig, oid, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("localstore: mkdir: %w", err)
	}
	return os.WriteFile(p, value, 0o644)
}

func (s *LocalOAttrStore) Get(_ context.Context, fsig sig.Sig128, oid odisk.OID, name string, _ sig.Sig128) ([]byte, bool, error) {
	b, err := os.ReadFile(s.pathFor(fsig, oid, name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}
