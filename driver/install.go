package driver

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/uplo-tech/errors"
	"github.com/uplo-tech/threadgroup"

	"github.com/uplo-tech/atomicupdate/atomic"
	"github.com/uplo-tech/atomicupdate/bus"
	"github.com/uplo-tech/atomicupdate/image"
	"github.com/uplo-tech/atomicupdate/step"
	"github.com/uplo-tech/atomicupdate/uptane"
)

// Target names one ECU's update: which ECU receives it and the refname the
// director/repo serve the target's bytes under.
type Target struct {
	ECU     string
	RefName string
}

// OstreeReference is the payload carried when neither the director nor the
// repo served target bytes directly: a pointer at an ostree ref the
// Secondary is expected to pull itself (spec.md §4.8 step 2).
type OstreeReference struct {
	Treehub     string `json:"treehub"`
	RefName     string `json:"ref_name"`
	Credentials string `json:"credentials,omitempty"`
}

// fetchTargetBytes tries the director, then the repo, for target's bytes,
// staging a successful fetch under workDir/<refname>. An empty path with no
// error means neither service served the target; the caller falls back to
// an OstreeReference.
func (c *Client) fetchTargetBytes(director, repo, workDir, refName string) (string, error) {
	for _, base := range []string{director, repo} {
		if base == "" {
			continue
		}
		body, err := c.get(trimSlash(base) + "/targets/" + refName)
		if err != nil {
			continue
		}
		path := filepath.Join(workDir, refName)
		if err := os.WriteFile(path, body, 0600); err != nil {
			return "", errors.AddContext(err, "could not stage fetched target")
		}
		return path, nil
	}
	return "", nil
}

func trimSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}

// BuildPayloads implements spec.md §4.8's install step 1-3: for every
// target, try to fetch bytes from the director then the repo and build an
// ImageMeta Fetch payload over the staged file, falling back to an
// OstreePackage reference payload; every target's ECU additionally gets the
// signed targets metadata as a UptaneMetadata payload at Verify.
func (c *Client) BuildPayloads(targets []Target, director, repo, workDir string, targetsSigned uptane.TufSigned, treehub, credentials string) (atomic.Payloads, map[string]*image.Reader, error) {
	payloads := make(atomic.Payloads, len(targets))
	images := make(map[string]*image.Reader)

	targetsData, err := json.Marshal(targetsSigned)
	if err != nil {
		return nil, nil, errors.AddContext(err, "could not encode targets metadata")
	}

	for _, target := range targets {
		byState := make(map[bus.State]bus.Payload)
		byState[atomic.Verify] = bus.Payload{Tag: bus.UptaneMetadata, Data: targetsData}

		path, err := c.fetchTargetBytes(director, repo, workDir, target.RefName)
		if err != nil {
			return nil, nil, errors.AddContext(err, "could not fetch target "+target.RefName)
		}
		if path != "" {
			reader, err := image.NewReader(workDir, target.RefName)
			if err != nil {
				return nil, nil, errors.AddContext(err, "could not open fetched target "+target.RefName)
			}
			images[target.RefName] = reader
			metaData, err := json.Marshal(reader.Meta())
			if err != nil {
				return nil, nil, errors.AddContext(err, "could not encode image meta for "+target.RefName)
			}
			byState[atomic.Fetch] = bus.Payload{Tag: bus.ImageMetaTag, Data: metaData}
		} else {
			ref := OstreeReference{Treehub: treehub, RefName: target.RefName, Credentials: credentials}
			refData, err := json.Marshal(ref)
			if err != nil {
				return nil, nil, errors.AddContext(err, "could not encode ostree reference for "+target.RefName)
			}
			byState[atomic.Fetch] = bus.Payload{Tag: bus.OstreePackage, Data: refData}
		}
		payloads[target.ECU] = byState
	}
	return payloads, images, nil
}

// SelfSecondary runs a Secondary in-process, on its own goroutine governed
// by a ThreadGroup rather than a separate ECU (spec.md §4.8's final step,
// and spec.md §5's "in-process self-Secondary is a cooperating thread").
type SelfSecondary struct {
	threads threadgroup.ThreadGroup
}

// Run launches sec.Listen on its own thread, tracked by the ThreadGroup so
// Stop can wait for it to exit. The bus passed to sec must already be an
// endpoint distinct from the Primary's.
func (s *SelfSecondary) Run(sec *atomic.Secondary) <-chan error {
	done := make(chan error, 1)
	if err := s.threads.Add(); err != nil {
		done <- err
		return done
	}
	go func() {
		defer s.threads.Done()
		done <- sec.Listen()
	}()
	return done
}

// Stop blocks until the self-Secondary's goroutine has returned.
func (s *SelfSecondary) Stop() error {
	return s.threads.Stop()
}

// NewSelfInstaller builds the BinaryInstaller-backed Secondary spawned when
// the Primary ECU itself appears in the target set.
func NewSelfInstaller(serial, workDir string, verifier *uptane.Verifier, targetsRole uptane.RoleName, sign func(serial string, state bus.State, installed bool) uptane.TufSigned) step.Step {
	return &step.BinaryInstaller{
		Serial:      serial,
		WorkDir:     workDir,
		Sign:        sign,
		Verifier:    verifier,
		TargetsRole: targetsRole,
	}
}
