package relay

// Chunks splits payload into consecutive slices of at most size bytes.
// The slices alias payload. An empty payload yields no chunks.
func Chunks(payload []byte, size int) [][]byte {
	if size <= 0 || len(payload) == 0 {
		return nil
	}
	out := make([][]byte, 0, ChunkCount(len(payload), size))
	for off := 0; off < len(payload); off += size {
		end := min(off+size, len(payload))
		out = append(out, payload[off:end:end])
	}
	return out
}

// ChunkCount is ceil(n/size).
func ChunkCount(n, size int) int {
	if size <= 0 || n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
