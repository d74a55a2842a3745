package step

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	update "github.com/inconshreveable/go-update"
	"github.com/kardianos/osext"
	"github.com/uplo-tech/atomicupdate/bus"
	"github.com/uplo-tech/atomicupdate/image"
	"github.com/uplo-tech/atomicupdate/uptane"
	"github.com/uplo-tech/errors"
)

// BinaryInstaller is a Step that replaces the ECU's own running binary: the
// payload it receives is either a fully self-contained Blob or
// OstreePackage (small enough to fit one bus frame) or an ImageMeta
// announcement that triggers the
// chunked-transfer path of spec.md §4.3. On Commit it applies the staged
// binary over the current executable via go-update and signs a report
// with Sign.
type BinaryInstaller struct {
	Serial  string
	WorkDir string
	// Sign produces a signed EcuVersion report. Required: spec.md §4.7
	// mandates a TufReport in Commit and Abort.
	Sign func(serial string, state bus.State, installed bool) uptane.TufSigned
	// Verifier checks a UptaneMetadata payload delivered at Verify.
	Verifier *uptane.Verifier
	// TargetsRole names the role a UptaneMetadata payload is verified
	// against.
	TargetsRole uptane.RoleName

	mu       sync.Mutex
	writer   *image.Writer
	stagedAt string
}

// Step implements step.Step.
func (b *BinaryInstaller) Step(state bus.State, payload *bus.Payload) (Result, error) {
	switch state {
	case bus.Verify:
		return Result{}, b.verify(payload)
	case bus.Fetch:
		return b.fetch(payload)
	case bus.Commit:
		err := b.install()
		return Result{Report: reportPtr(b.Sign(b.Serial, state, err == nil))}, err
	case bus.Abort:
		return Result{Report: reportPtr(b.Sign(b.Serial, state, false))}, nil
	default:
		return Result{}, nil
	}
}

func reportPtr(r uptane.TufSigned) *uptane.TufSigned { return &r }

// verify checks a UptaneMetadata payload, if one was delivered, against
// Verifier. A missing payload is accepted: not every Secondary receives
// targets metadata directly (spec.md §4.8: it is attached "for every
// target", but a Secondary outside the target set may see none).
func (b *BinaryInstaller) verify(payload *bus.Payload) error {
	if payload == nil || payload.Tag != bus.UptaneMetadata {
		return nil
	}
	var signed uptane.TufSigned
	if err := json.Unmarshal(payload.Data, &signed); err != nil {
		return errors.AddContext(err, "could not decode uptane metadata payload")
	}
	if b.Verifier == nil {
		return errors.New("binary installer has no verifier configured")
	}
	_, err := b.Verifier.VerifySigned(b.TargetsRole, signed)
	return err
}

// fetch handles the payload shapes that can arrive at Fetch: a
// self-contained Blob or OstreePackage, whose bytes are staged directly, or
// an ImageMeta announcement that starts the chunked-transfer sub-protocol
// via an image.Writer.
func (b *BinaryInstaller) fetch(payload *bus.Payload) (Result, error) {
	if payload == nil {
		return Result{}, nil
	}
	switch payload.Tag {
	case bus.Blob, bus.OstreePackage:
		path := filepath.Join(b.WorkDir, "staged-binary")
		if err := os.WriteFile(path, payload.Data, 0700); err != nil {
			return Result{}, errors.AddContext(err, "could not stage binary payload")
		}
		b.mu.Lock()
		b.stagedAt = path
		b.mu.Unlock()
		return Result{}, nil
	case bus.ImageMetaTag:
		var meta image.Meta
		if err := json.Unmarshal(payload.Data, &meta); err != nil {
			return Result{}, errors.AddContext(err, "could not decode image meta payload")
		}
		w, err := image.NewWriter(meta, b.WorkDir)
		if err != nil {
			return Result{}, errors.AddContext(err, "could not create image writer")
		}
		b.mu.Lock()
		b.writer = w
		b.stagedAt = filepath.Join(b.WorkDir, meta.Name)
		b.mu.Unlock()
		return Result{Writer: w}, nil
	default:
		return Result{}, errors.New("binary installer cannot dispatch this payload tag at fetch")
	}
}

// install applies the staged binary over the running executable. It is a
// no-op if nothing was staged, satisfying the Commit/Abort idempotence
// spec.md §9 requires of installers across a recovered restart.
func (b *BinaryInstaller) install() error {
	b.mu.Lock()
	staged := b.stagedAt
	b.mu.Unlock()
	if staged == "" {
		return nil
	}
	f, err := os.Open(staged)
	if err != nil {
		return errors.AddContext(err, "could not open staged binary")
	}
	defer f.Close()

	target, err := osext.Executable()
	if err != nil {
		return errors.AddContext(err, "could not locate running executable")
	}
	return errors.AddContext(update.Apply(f, update.Options{TargetPath: target}), "could not apply update")
}
