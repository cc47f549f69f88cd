package staging

import (
	"testing"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
)

func TestChunkRaw(t *testing.T) {
	batch := make([]model.RawRecord, 12)
	for i := range batch {
		batch[i] = model.RawRecord{RowNumber: i + 1}
	}

	chunks := chunkRaw(batch, 5)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != 5 || len(chunks[1]) != 5 || len(chunks[2]) != 2 {
		t.Errorf("chunk sizes = %d/%d/%d, want 5/5/2", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	for i, c := range chunks {
		for j, r := range c {
			if r.RowNumber != i*5+j+1 {
				t.Errorf("chunk %d row %d has RowNumber %d, want %d", i, j, r.RowNumber, i*5+j+1)
			}
		}
	}
}

func TestChunkRawEmptyBatch(t *testing.T) {
	if chunks := chunkRaw(nil, 5); len(chunks) != 0 {
		t.Errorf("chunkRaw(nil) = %v, want no chunks", chunks)
	}
}

func TestChunkRawExactMultiple(t *testing.T) {
	batch := make([]model.RawRecord, 10)
	chunks := chunkRaw(batch, 5)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
}

func TestChunkRawSmallerThanSize(t *testing.T) {
	batch := make([]model.RawRecord, 3)
	chunks := chunkRaw(batch, 5)
	if len(chunks) != 1 || len(chunks[0]) != 3 {
		t.Fatalf("chunkRaw(3 rows, size 5) = %v, want one chunk of 3", chunks)
	}
}
