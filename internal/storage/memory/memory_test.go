package memory

import (
	"context"
	"testing"

	"remotedesk/internal/storage"
)

func TestWriteChunkIsIdempotentForIdenticalBytes(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.WriteChunk(ctx, "t1", 0, []byte("abc")); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	if err := store.WriteChunk(ctx, "t1", 0, []byte("abc")); err != nil {
		t.Fatalf("rewrite identical chunk: %v", err)
	}
	if err := store.WriteChunk(ctx, "t1", 0, []byte("xyz")); err != storage.ErrConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.WriteChunk(ctx, "t1", -1, []byte("x")); err != storage.ErrInvalidChunk {
		t.Fatalf("expected invalid chunk, got %v", err)
	}

	data, err := store.ReadChunk(ctx, "t1", 0)
	if err != nil || string(data) != "abc" {
		t.Fatalf("read chunk: %q %v", data, err)
	}
	if _, err := store.ReadChunk(ctx, "t1", 1); err != storage.ErrNotFound {
		t.Fatalf("expected missing chunk")
	}
}

func TestSweepRemovesDeadTransfers(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, id := range []string{"live", "dead"} {
		for i := 0; i < 3; i++ {
			if err := store.WriteChunk(ctx, id, i, []byte{byte(i)}); err != nil {
				t.Fatalf("write chunk: %v", err)
			}
		}
	}

	report, err := store.Sweep(ctx, func(id string) bool { return id == "live" })
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Transfers != 1 || report.Chunks != 3 {
		t.Fatalf("unexpected sweep report: %+v", report)
	}
	if _, err := store.ListChunks(ctx, "dead"); err != storage.ErrNotFound {
		t.Fatalf("expected dead transfer removed")
	}
	indices, err := store.ListChunks(ctx, "live")
	if err != nil || len(indices) != 3 || indices[2] != 2 {
		t.Fatalf("live chunks: %v %v", indices, err)
	}
}
