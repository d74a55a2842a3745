package persist

import (
	"bytes"
	"encoding/base32"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/uplo-tech/errors"
	"github.com/uplo-tech/fastrand"
)

const (
	// DefaultDiskPermissionsTest when creating files or directories in tests.
	DefaultDiskPermissionsTest = 0750

	// FixedMetadataSize is the size of the FixedMetadata header in bytes.
	FixedMetadataSize = 32

	// SpecifierLen is the length in bytes of a Specifier.
	SpecifierLen = 16

	// defaultDirPermissions is the default permissions when creating dirs.
	defaultDirPermissions = 0700

	// defaultFilePermissions is the default permissions when creating files.
	defaultFilePermissions = 0600

	// randomBytes is the number of bytes to use to ensure sufficient randomness
	randomBytes = 20

	// tempSuffix is the suffix that is applied to the temporary/backup versions
	// of the files being persisted.
	tempSuffix = "_temp"
)

var (
	// ErrBadFilenameSuffix indicates that SaveJSON or LoadJSON was called using
	// a filename that has a bad suffix. This prevents users from trying to use
	// this package to manage the temp files - this package will manage them
	// automatically.
	ErrBadFilenameSuffix = errors.New("filename suffix not allowed")

	// ErrBadHeader indicates that the file opened is not the file that was
	// expected.
	ErrBadHeader = errors.New("wrong header")

	// ErrBadVersion indicates that the version number of the file is not
	// compatible with the current codebase.
	ErrBadVersion = errors.New("incompatible version")

	// ErrFileInUse is returned if SaveJSON or LoadJSON is called on a file
	// that's already being manipulated in another thread by the persist
	// package.
	ErrFileInUse = errors.New("another thread is saving or loading this file")
)

var (
	// activeFiles is a map tracking which filenames are currently being used
	// for saving and loading. There should never be a situation where the same
	// file is being called twice from different threads, as the persist package
	// has no way to tell what order they were intended to be called.
	activeFiles   = make(map[string]struct{})
	activeFilesMu sync.Mutex
)

// Specifier is a fixed-length identifier, used in place of the
// blockchain-flavored types.Specifier this package's upstream depends on -
// the coordinator has no chain types, just named headers/versions for
// recovery-file checkpoints.
type Specifier [SpecifierLen]byte

// NewSpecifier creates a specifier from the provided string, which must not
// be longer than SpecifierLen bytes.
func NewSpecifier(name string) (s Specifier) {
	copy(s[:], name)
	return
}

// Metadata contains the header and version of the data being stored.
type Metadata struct {
	Header  string
	Version string
}

// FixedMetadata contains the header and version of the data being stored as a
// fixed-length byte-array.
type FixedMetadata struct {
	Header  Specifier
	Version Specifier
}

// RandomSuffix returns a 20 character base32 suffix for a filename. There are
// 100 bits of entropy, and a very low probability of colliding with existing
// files unintentionally.
func RandomSuffix() string {
	str := base32.StdEncoding.EncodeToString(fastrand.Bytes(randomBytes))
	return str[:20]
}

// UID returns a hexadecimal encoded string that can be used as an unique ID.
func UID() string {
	return hex.EncodeToString(fastrand.Bytes(randomBytes))
}

// RemoveFile removes an atomic file from disk, along with any uncommitted
// or temporary files.
func RemoveFile(filename string) error {
	err := os.RemoveAll(filename)
	if err != nil {
		return err
	}
	err = os.RemoveAll(filename + tempSuffix)
	if err != nil {
		return err
	}
	return nil
}

// VerifyMetadataHeader will take in a reader and an expected metadata header,
// if the file's header has a different header or version it will return the
// corresponding error and the actual metadata header
func VerifyMetadataHeader(r io.Reader, expected FixedMetadata) (FixedMetadata, error) {
	b := make([]byte, FixedMetadataSize)

	// Read metadata from file
	_, err := io.ReadFull(r, b)
	if err != nil {
		return FixedMetadata{}, errors.AddContext(err, "could not read metadata header")
	}
	actual := FixedMetadata{}
	copy(actual.Header[:], b[:SpecifierLen])
	copy(actual.Version[:], b[SpecifierLen:2*SpecifierLen])

	// Verify metadata header and version
	if !bytes.Equal(actual.Header[:], expected.Header[:]) {
		return actual, ErrBadHeader
	}
	if !bytes.Equal(actual.Version[:], expected.Version[:]) {
		return actual, ErrBadVersion
	}

	return actual, nil
}

// lockFile marks filename as in-use, returning ErrFileInUse if another
// goroutine is already saving or loading it.
func lockFile(filename string) error {
	activeFilesMu.Lock()
	defer activeFilesMu.Unlock()
	if _, inUse := activeFiles[filename]; inUse {
		return ErrFileInUse
	}
	activeFiles[filename] = struct{}{}
	return nil
}

func unlockFile(filename string) {
	activeFilesMu.Lock()
	defer activeFilesMu.Unlock()
	delete(activeFiles, filename)
}

// SaveJSON saves a JSON-marshaled object, prefixed by a FixedMetadata header,
// to filename. The write is atomic: the object is written to a temporary
// file, flushed and synced to disk, and only then renamed over filename, so
// a crash at any point leaves either the old file or the new one intact,
// never a half-written one.
func SaveJSON(meta FixedMetadata, object interface{}, filename string) error {
	if len(filename) > len(tempSuffix) && filename[len(filename)-len(tempSuffix):] == tempSuffix {
		return ErrBadFilenameSuffix
	}
	if err := lockFile(filename); err != nil {
		return err
	}
	defer unlockFile(filename)

	data, err := json.Marshal(object)
	if err != nil {
		return errors.AddContext(err, "could not marshal object")
	}

	tmpFilename := filename + tempSuffix
	f, err := os.OpenFile(tmpFilename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, defaultFilePermissions)
	if err != nil {
		return errors.AddContext(err, "could not create temp file")
	}
	defer f.Close()

	if _, err := f.Write(meta.Header[:]); err != nil {
		return errors.AddContext(err, "could not write header")
	}
	if _, err := f.Write(meta.Version[:]); err != nil {
		return errors.AddContext(err, "could not write version")
	}
	if _, err := f.Write(data); err != nil {
		return errors.AddContext(err, "could not write object")
	}
	if err := f.Sync(); err != nil {
		return errors.AddContext(err, "could not sync temp file")
	}
	if err := f.Close(); err != nil {
		return errors.AddContext(err, "could not close temp file")
	}
	if err := os.Rename(tmpFilename, filename); err != nil {
		return errors.AddContext(err, "could not rename temp file")
	}
	return nil
}

// LoadJSON loads a JSON-marshaled object, prefixed by a FixedMetadata
// header, from filename, failing if the header/version does not match meta.
func LoadJSON(meta FixedMetadata, object interface{}, filename string) error {
	if err := lockFile(filename); err != nil {
		return err
	}
	defer unlockFile(filename)

	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := VerifyMetadataHeader(f, meta); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return errors.AddContext(err, "could not read object")
	}
	if err := json.Unmarshal(data, object); err != nil {
		return errors.AddContext(err, "could not unmarshal object")
	}
	return nil
}
