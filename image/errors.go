package image

import "github.com/uplo-tech/errors"

// Error sentinels for the Image error class (spec.md §7): any chunk or
// checksum failure - unknown index, missing writer, sha256 mismatch.
var (
	ErrChunkIndex        = errors.New("chunk index out of range")
	ErrChunksOutstanding = errors.New("chunks still outstanding")
	ErrChecksumMismatch  = errors.New("assembled image checksum mismatch")
	ErrNotFound          = errors.New("image not found")
)
