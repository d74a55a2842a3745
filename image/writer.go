package image

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/uplo-tech/errors"
	"github.com/uplo-tech/merkletree"
)

// Writer is the Secondary-side half of a chunked image transfer
// (spec.md §4.3): it stages chunks on disk as they arrive and, once every
// chunk has been written, assembles and verifies the finished image.
type Writer struct {
	meta Meta
	dir  string

	mu              sync.Mutex
	lastWritten     uint64
	chunksWritten   map[uint64]struct{}
	chunksAvailable map[uint64]struct{}
	tree            *merkletree.Tree
}

// stagingBase is the directory under os.TempDir() that staged chunks are
// written beneath, per spec.md §4.3: "/tmp/<base>/<image_name>/<index>".
const stagingBase = "atomicupdate-staging"

// NewWriter creates a Writer for meta that assembles the finished image
// into dir. Staged chunks live under os.TempDir(), not under dir.
func NewWriter(meta Meta, dir string) (*Writer, error) {
	available := make(map[uint64]struct{}, meta.NumChunks)
	for i := uint64(0); i < meta.NumChunks; i++ {
		available[i] = struct{}{}
	}
	stagingPath := stagingDir(meta.Name)
	if err := os.MkdirAll(stagingPath, 0700); err != nil {
		return nil, errors.AddContext(err, "could not create staging directory")
	}
	return &Writer{
		meta:            meta,
		dir:             dir,
		chunksWritten:   make(map[uint64]struct{}, meta.NumChunks),
		chunksAvailable: available,
		tree:            merkletree.New(sha256.New()),
	}, nil
}

func stagingDir(imageName string) string {
	return filepath.Join(os.TempDir(), stagingBase, imageName)
}

// WriteChunk stages data as chunk index. It is idempotent: writing an index
// already in chunksWritten is allowed and simply updates lastWritten.
func (w *Writer) WriteChunk(data []byte, index uint64) error {
	if index >= w.meta.NumChunks {
		return ErrChunkIndex
	}
	path := filepath.Join(stagingDir(w.meta.Name), chunkFilename(index))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.AddContext(err, "could not write chunk to staging")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastWritten = index
	if _, already := w.chunksWritten[index]; !already {
		w.chunksWritten[index] = struct{}{}
		delete(w.chunksAvailable, index)
		w.tree.Push(data)
	}
	return nil
}

// Complete reports whether every chunk has been written.
func (w *Writer) Complete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.chunksAvailable) == 0
}

// LastWritten returns the index most recently accepted by WriteChunk.
func (w *Writer) LastWritten() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastWritten
}

// AssembleChunks fails unless every chunk has been written; it then
// concatenates the staged chunks in ascending index order into
// <dir>/<name> and verifies the result's SHA-256 against meta.SHA256.
func (w *Writer) AssembleChunks() error {
	w.mu.Lock()
	if len(w.chunksAvailable) != 0 {
		w.mu.Unlock()
		return ErrChunksOutstanding
	}
	merkleRoot := hex.EncodeToString(w.tree.Root())
	w.mu.Unlock()

	outPath := filepath.Join(w.dir, w.meta.Name)
	out, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.AddContext(err, "could not create assembled image")
	}
	defer out.Close()

	h := sha256.New()
	mw := io.MultiWriter(out, h)
	for i := uint64(0); i < w.meta.NumChunks; i++ {
		chunkPath := filepath.Join(stagingDir(w.meta.Name), chunkFilename(i))
		data, err := os.ReadFile(chunkPath)
		if err != nil {
			return errors.AddContext(err, "could not read staged chunk")
		}
		if _, err := mw.Write(data); err != nil {
			return errors.AddContext(err, "could not write assembled image")
		}
	}
	if err := out.Sync(); err != nil {
		return errors.AddContext(err, "could not sync assembled image")
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if sum != w.meta.SHA256 {
		return errors.AddContext(ErrChecksumMismatch,
			"expected "+w.meta.SHA256+" (merkle root "+merkleRoot+") got "+sum)
	}
	return nil
}

// Close removes the staging directory. Callers should call it once
// AssembleChunks has succeeded (or the transfer has been abandoned).
func (w *Writer) Close() error {
	return os.RemoveAll(stagingDir(w.meta.Name))
}

func chunkFilename(index uint64) string {
	return strconv.FormatUint(index, 10)
}
