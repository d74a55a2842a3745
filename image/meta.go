// Package image implements chunked read/write access to update images: the
// fixed-size-chunk transfer sub-protocol that runs inside the Fetch phase
// of the atomic commit protocol (spec.md §4.3).
package image

// ChunkSize is the fixed chunk size images are read and transferred in.
const ChunkSize = 65536

// Meta describes an image as both sides of a transfer need to agree on it:
// its name, total size, chunk count, and expected digest.
type Meta struct {
	Name      string `json:"name"`
	Size      uint64 `json:"size"`
	NumChunks uint64 `json:"num_chunks"`
	SHA256    string `json:"sha256"`
}

// NumChunksFor returns ceil(size / ChunkSize), the invariant NumChunks must
// satisfy for a given Size.
func NumChunksFor(size uint64) uint64 {
	return (size + ChunkSize - 1) / ChunkSize
}
