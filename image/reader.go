package image

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/uplo-tech/errors"
)

// Reader is the Primary-side half of a chunked image transfer: a fixed-size
// chunked view of a local file, exclusively owned by whichever Primary is
// streaming it for the lifetime of one transaction.
type Reader struct {
	meta Meta
	dir  string
}

// NewReader opens name under dir, computing its size, chunk count and
// SHA-256 by sequentially reading every chunk - no streaming API is leaked
// to callers, matching spec.md §4.3: "ImageReader computes sha256 by
// sequentially reading every chunk".
func NewReader(dir, name string) (*Reader, error) {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.AddContext(err, "could not stat image")
	}
	size := uint64(info.Size())
	numChunks := NumChunksFor(size)

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.AddContext(err, "could not open image")
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, errors.AddContext(err, "could not read image for checksum")
	}

	return &Reader{
		meta: Meta{
			Name:      name,
			Size:      size,
			NumChunks: numChunks,
			SHA256:    hex.EncodeToString(h.Sum(nil)),
		},
		dir: dir,
	}, nil
}

// Meta returns the image's metadata.
func (r *Reader) Meta() Meta {
	return r.meta
}

// ReadChunk returns the bytes of chunk i: [i*ChunkSize,
// min((i+1)*ChunkSize, size)). It fails if i >= NumChunks.
func (r *Reader) ReadChunk(i uint64) ([]byte, error) {
	if i >= r.meta.NumChunks {
		return nil, ErrChunkIndex
	}
	path := filepath.Join(r.dir, r.meta.Name)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.AddContext(err, "could not open image")
	}
	defer f.Close()

	start := i * ChunkSize
	end := start + ChunkSize
	if end > r.meta.Size {
		end = r.meta.Size
	}
	length := end - start
	buf := make([]byte, length)
	if _, err := f.Seek(int64(start), io.SeekStart); err != nil {
		return nil, errors.AddContext(err, "could not seek image")
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, errors.AddContext(err, "could not read chunk")
	}
	return buf, nil
}
