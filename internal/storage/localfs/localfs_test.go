package localfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"remotedesk/internal/storage"
)

func TestSweepRemovesDeadTransferDirectories(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	for _, id := range []string{"keep", "drop"} {
		for i := 0; i < 2; i++ {
			if err := store.WriteChunk(ctx, id, i, []byte("data")); err != nil {
				t.Fatalf("write chunk: %v", err)
			}
		}
	}

	report, err := store.Sweep(ctx, func(id string) bool { return id == "keep" })
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Total() != 3 {
		t.Fatalf("unexpected sweep report: %+v", report)
	}
	if _, err := os.Stat(filepath.Join(dir, "transfers", "drop")); !os.IsNotExist(err) {
		t.Fatalf("expected transfer directory removed")
	}
	indices, err := store.ListChunks(ctx, "keep")
	if err != nil || len(indices) != 2 {
		t.Fatalf("kept chunks: %v %v", indices, err)
	}
}

func TestChunkRoundTripAndConflict(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if err := store.WriteChunk(ctx, "t1", 3, []byte("chunk")); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	if err := store.WriteChunk(ctx, "t1", 3, []byte("chunk")); err != nil {
		t.Fatalf("rewrite identical chunk: %v", err)
	}
	if err := store.WriteChunk(ctx, "t1", 3, []byte("other")); err != storage.ErrConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	data, err := store.ReadChunk(ctx, "t1", 3)
	if err != nil || string(data) != "chunk" {
		t.Fatalf("read chunk: %q %v", data, err)
	}
	if err := store.WriteChunk(ctx, "../escape", 0, []byte("x")); err != storage.ErrInvalidChunk {
		t.Fatalf("expected invalid chunk for traversal id, got %v", err)
	}
	if err := store.DeleteTransfer(ctx, "t1"); err != nil {
		t.Fatalf("delete transfer: %v", err)
	}
	if _, err := store.ReadChunk(ctx, "t1", 3); err != storage.ErrNotFound {
		t.Fatalf("expected chunk removed")
	}
}
