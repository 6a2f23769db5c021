package sqldb

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/storage/storagetest"
)

var dbSeq atomic.Int64

func newTestStore(t *testing.T) ports.StorageProvider {
	t.Helper()
	store, err := NewSQLite(fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", dbSeq.Add(1)))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLDBStore(t *testing.T) {
	storagetest.Run(t, newTestStore)
}

func TestSQLDBStore_SchemaIsIdempotent(t *testing.T) {
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	first, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer first.Close()

	second, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("second NewSQLite() error = %v", err)
	}
	second.Close()
}
