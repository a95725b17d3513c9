// Package storage stages file-transfer chunks until a transfer reaches a
// terminal state. Nothing here outlives the process's sessions.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")
var ErrInvalidChunk = errors.New("invalid chunk")
var ErrConflict = errors.New("conflict")

type ChunkStore interface {
	// WriteChunk stores data at index. Rewriting identical bytes succeeds;
	// different bytes at a stored index return ErrConflict.
	WriteChunk(ctx context.Context, transferID string, index int, data []byte) error
	ReadChunk(ctx context.Context, transferID string, index int) ([]byte, error)
	ListChunks(ctx context.Context, transferID string) ([]int, error)
	DeleteTransfer(ctx context.Context, transferID string) error
	// Sweep removes staged transfers for which live reports false.
	Sweep(ctx context.Context, live func(transferID string) bool) (SweepReport, error)
}

type SweepReport struct {
	Transfers int
	Chunks    int
}

func (r SweepReport) Total() int {
	return r.Transfers + r.Chunks
}
