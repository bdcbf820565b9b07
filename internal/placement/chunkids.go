package placement

import "fmt"

// ChunkID formats the canonical chunk identifier for chunk i of
// filename: "<filename>_chunk_<i>" (spec §3).
func ChunkID(filename string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", filename, i)
}

// ChunkIDs returns the ordered chunk ids for a file of n chunks.
func ChunkIDs(filename string, n int) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = ChunkID(filename, i)
	}
	return ids
}
