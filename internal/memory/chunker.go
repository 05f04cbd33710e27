// Package memory keeps the full-text index over agent memory files.
package memory

import (
	"fmt"

	"github.com/cladehq/clade/internal/store"
)

const (
	// chunkSize and chunkOverlap are in runes. Overlapping windows keep
	// phrases that straddle a boundary findable.
	chunkSize    = 1600
	chunkOverlap = 320
)

// splitChunks windows text into overlapping chunks with deterministic
// ids, so reindexing the same content is idempotent.
func splitChunks(filePath, text string) []store.MemoryChunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := chunkSize - chunkOverlap

	var out []store.MemoryChunk
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, store.MemoryChunk{
			ID:    fmt.Sprintf("%s#%d", filePath, start),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return out
}
