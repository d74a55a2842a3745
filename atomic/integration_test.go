package atomic

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uplo-tech/atomicupdate/bus"
	"github.com/uplo-tech/atomicupdate/image"
	"github.com/uplo-tech/atomicupdate/step"
	"github.com/uplo-tech/atomicupdate/uptane"
	"github.com/uplo-tech/errors"
)

func signReport(serial string, state bus.State, installed bool) uptane.TufSigned {
	data, _ := json.Marshal(map[string]interface{}{"ecu": serial, "state": string(state), "installed": installed})
	return uptane.TufSigned{Signed: data}
}

// TestCommitHappyPath is spec.md §8 scenario 1: three Secondaries with
// empty payload maps all commit cleanly.
func TestCommitHappyPath(t *testing.T) {
	hub := bus.NewLoopbackHub()
	defer hub.CloseAll()

	payloads := Payloads{"a": {}, "b": {}, "c": {}}
	primary := New(payloads, nil, nil, hub.Endpoint(), 3*time.Second, "")

	errs := make(chan error, 3)
	for _, serial := range []string{"a", "b", "c"} {
		sec := New(serial, hub.Endpoint(), &step.Nop{Serial: serial, Sign: signReport}, 1*time.Second, "")
		go func() { errs <- sec.Listen() }()
	}

	if err := primary.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("secondary listen failed: %v", err)
		}
	}

	committed := primary.Committed()
	if len(committed) != 3 {
		t.Fatalf("expected 3 committed, got %v", committed)
	}
	if len(primary.Aborted()) != 0 {
		t.Fatalf("expected no aborts, got %v", primary.Aborted())
	}
}

// TestCommitVerifyFailure is spec.md §8 scenario 3: c's installer errors at
// Verify, and the abort is expected to propagate to every Secondary.
func TestCommitVerifyFailure(t *testing.T) {
	hub := bus.NewLoopbackHub()
	defer hub.CloseAll()

	payloads := Payloads{"a": {}, "b": {}, "c": {}}
	primary := New(payloads, nil, nil, hub.Endpoint(), 3*time.Second, "")

	errs := make(chan error, 3)
	for _, serial := range []string{"a", "b", "c"} {
		nop := &step.Nop{Serial: serial, Sign: signReport}
		if serial == "c" {
			nop.FailAt = Verify
		}
		sec := New(serial, hub.Endpoint(), nop, 1*time.Second, "")
		go func() { errs <- sec.Listen() }()
	}

	err := primary.Commit()
	if err == nil {
		t.Fatal("expected commit to fail")
	}
	if _, ok := err.(*AtomicAbortError); !ok {
		t.Fatalf("expected AtomicAbortError, got %T: %v", err, err)
	}
	for i := 0; i < 3; i++ {
		<-errs
	}

	if len(primary.Committed()) != 0 {
		t.Fatalf("expected no commits, got %v", primary.Committed())
	}
	if aborted := primary.Aborted(); len(aborted) != 3 {
		t.Fatalf("expected a, b, c all aborted, got %v", aborted)
	}
}

// TestCommitVerifyPayloadMatch is spec.md §8 scenario 2: each Secondary's
// installer is handed a distinct payload at a distinct state and asserts it
// matches exactly; all three still commit.
func TestCommitVerifyPayloadMatch(t *testing.T) {
	hub := bus.NewLoopbackHub()
	defer hub.CloseAll()

	verifyPayload := bus.Payload{Tag: bus.Blob, Data: []byte("verify payload")}
	fetchPayload := bus.Payload{Tag: bus.Blob, Data: []byte("fetch payload")}
	commitPayload := bus.Payload{Tag: bus.Blob, Data: []byte("commit payload")}

	payloads := Payloads{
		"a": {Verify: verifyPayload},
		"b": {Fetch: fetchPayload},
		"c": {Commit: commitPayload},
	}
	primary := New(payloads, nil, nil, hub.Endpoint(), 3*time.Second, "")

	installers := map[string]*payloadCheckInstaller{
		"a": {serial: "a", atState: Verify, want: verifyPayload},
		"b": {serial: "b", atState: Fetch, want: fetchPayload},
		"c": {serial: "c", atState: Commit, want: commitPayload},
	}

	errs := make(chan error, 3)
	for _, serial := range []string{"a", "b", "c"} {
		installer := installers[serial]
		sec := New(serial, hub.Endpoint(), installer, 1*time.Second, "")
		go func() { errs <- sec.Listen() }()
	}

	if err := primary.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("secondary listen failed: %v", err)
		}
	}

	if committed := primary.Committed(); len(committed) != 3 {
		t.Fatalf("expected 3 committed, got %v", committed)
	}
	if len(primary.Aborted()) != 0 {
		t.Fatalf("expected no aborts, got %v", primary.Aborted())
	}
}

// payloadCheckInstaller asserts that the payload delivered at atState
// matches want exactly, signing a report in every terminal state.
type payloadCheckInstaller struct {
	serial  string
	atState State
	want    bus.Payload
}

func (p *payloadCheckInstaller) Step(state bus.State, payload *bus.Payload) (step.Result, error) {
	if state == p.atState {
		if payload == nil || payload.Tag != p.want.Tag || string(payload.Data) != string(p.want.Data) {
			return step.Result{}, errors.New("unexpected payload at " + string(state))
		}
	}
	if state.Terminal() {
		r := signReport(p.serial, state, true)
		return step.Result{Report: &r}, nil
	}
	return step.Result{}, nil
}

// TestCommitFailureAfterVerifyFetch is spec.md §8 scenario 4: c's installer
// errors only at Commit, after Verify and Fetch already succeeded for every
// Secondary. Expect a and b to commit while c alone aborts.
func TestCommitFailureAfterVerifyFetch(t *testing.T) {
	hub := bus.NewLoopbackHub()
	defer hub.CloseAll()

	payloads := Payloads{"a": {}, "b": {}, "c": {}}
	primary := New(payloads, nil, nil, hub.Endpoint(), 3*time.Second, "")

	errs := make(chan error, 3)
	for _, serial := range []string{"a", "b"} {
		sec := New(serial, hub.Endpoint(), &step.Nop{Serial: serial, Sign: signReport}, 3*time.Second, "")
		go func() { errs <- sec.Listen() }()
	}
	cSec := New("c", hub.Endpoint(), &commitFailInstaller{serial: "c", delay: 200 * time.Millisecond}, 3*time.Second, "")
	go func() { errs <- cSec.Listen() }()

	err := primary.Commit()
	if err == nil {
		t.Fatal("expected commit to fail")
	}
	for i := 0; i < 3; i++ {
		<-errs
	}

	if committed := primary.Committed(); len(committed) != 2 || !has(committed, "a") || !has(committed, "b") {
		t.Fatalf("expected a, b committed, got %v", committed)
	}
	if aborted := primary.Aborted(); len(aborted) != 1 || !has(aborted, "c") {
		t.Fatalf("expected only c aborted, got %v", aborted)
	}
}

// commitFailInstaller sleeps delay and then errors only at Commit, signing
// reports normally at every other terminal state (Abort, reached via the
// cascade the Commit failure triggers).
type commitFailInstaller struct {
	serial string
	delay  time.Duration
}

func (c *commitFailInstaller) Step(state bus.State, payload *bus.Payload) (step.Result, error) {
	if state == Commit {
		time.Sleep(c.delay)
		return step.Result{}, errors.New("commit failed")
	}
	if state.Terminal() {
		r := signReport(c.serial, state, true)
		return step.Result{Report: &r}, nil
	}
	return step.Result{}, nil
}

// TestCommitVerifyTimeout is spec.md §8 scenario 5: c's installer hangs in
// Verify well past the Primary's deadline. Expect the Primary to time out,
// cascading an abort that only a and b (still alive and listening) can ack
// before the cascade's own bounded wait expires - c is never in Aborted().
//
// The installer's hang is scaled down from the seed scenario's literal 99s
// to keep the test fast; it still outlasts both the Primary's deadline and
// the cascade's wait, which ends only on the first 1s bus poll timeout after
// the deadline has passed (about 2s in here).
func TestCommitVerifyTimeout(t *testing.T) {
	hub := bus.NewLoopbackHub()
	defer hub.CloseAll()

	payloads := Payloads{"a": {}, "b": {}, "c": {}}
	primary := New(payloads, nil, nil, hub.Endpoint(), 200*time.Millisecond, "")

	errs := make(chan error, 3)
	for _, serial := range []string{"a", "b"} {
		sec := New(serial, hub.Endpoint(), &step.Nop{Serial: serial, Sign: signReport}, 5*time.Second, "")
		go func() { errs <- sec.Listen() }()
	}
	cSec := New("c", hub.Endpoint(), &verifyDelayInstaller{serial: "c", delay: 3 * time.Second}, 2*time.Second, "")
	go func() { errs <- cSec.Listen() }()

	err := primary.Commit()
	if err == nil {
		t.Fatal("expected commit to fail")
	}
	for i := 0; i < 3; i++ {
		<-errs
	}

	if committed := primary.Committed(); len(committed) != 0 {
		t.Fatalf("expected no commits, got %v", committed)
	}
	if aborted := primary.Aborted(); len(aborted) != 2 || !has(aborted, "a") || !has(aborted, "b") {
		t.Fatalf("expected only a, b aborted, got %v", aborted)
	}
}

// verifyDelayInstaller sleeps delay only at Verify, otherwise behaving like
// a normal installer - it signs reports in whichever terminal state it is
// eventually driven to.
type verifyDelayInstaller struct {
	serial string
	delay  time.Duration
}

func (v *verifyDelayInstaller) Step(state bus.State, payload *bus.Payload) (step.Result, error) {
	if state == Verify {
		time.Sleep(v.delay)
	}
	if state.Terminal() {
		r := signReport(v.serial, state, true)
		return step.Result{Report: &r}, nil
	}
	return step.Result{}, nil
}

// TestCommitVerifyCrashRecovers is spec.md §8 scenario 6: c's installer
// panics mid-Verify; its checkpoint survives the crash, and a freshly
// constructed Secondary resumes from it via Recover, riding the Primary's
// periodic re-broadcast of the still-unacked Verify request through to a
// normal commit.
func TestCommitVerifyCrashRecovers(t *testing.T) {
	hub := bus.NewLoopbackHub()
	defer hub.CloseAll()

	recoverPath := filepath.Join(t.TempDir(), "c.checkpoint")

	payloads := Payloads{"a": {}, "b": {}, "c": {}}
	primary := New(payloads, nil, nil, hub.Endpoint(), 6*time.Second, "")

	errs := make(chan error, 3)
	for _, serial := range []string{"a", "b"} {
		sec := New(serial, hub.Endpoint(), &step.Nop{Serial: serial, Sign: signReport}, 5*time.Second, "")
		go func() { errs <- sec.Listen() }()
	}

	go func() {
		func() {
			defer func() { _ = recover() }()
			crashSec := New("c", hub.Endpoint(), &verifyCrashInstaller{}, 5*time.Second, recoverPath)
			_ = crashSec.Listen()
		}()

		recovered, err := Recover(recoverPath, hub.Endpoint(), &step.Nop{Serial: "c", Sign: signReport})
		if err != nil {
			errs <- err
			return
		}
		errs <- recovered.Listen()
	}()

	if err := primary.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("secondary listen failed: %v", err)
		}
	}

	if committed := primary.Committed(); len(committed) != 3 {
		t.Fatalf("expected 3 committed, got %v", committed)
	}
}

// verifyCrashInstaller panics the instant it is stepped into Verify,
// simulating a process crash mid-transition; the checkpoint transition()
// writes before calling Step is what a recovered Secondary resumes from.
type verifyCrashInstaller struct{}

func (verifyCrashInstaller) Step(state bus.State, payload *bus.Payload) (step.Result, error) {
	if state == Verify {
		panic("verify crashed")
	}
	return step.Result{}, nil
}

// has reports whether set contains serial.
func has(set map[string]struct{}, serial string) bool {
	_, ok := set[serial]
	return ok
}

// TestChunkedImageFetch is spec.md §8 scenario 7: a Secondary receives an
// ImageMeta payload at Fetch, requests chunks, assembles, and commits.
func TestChunkedImageFetch(t *testing.T) {
	dir := t.TempDir()
	name := "firmware.bin"
	data := make([]byte, 123)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
		t.Fatal(err)
	}
	reader, err := image.NewReader(dir, name)
	if err != nil {
		t.Fatal(err)
	}
	metaBytes, err := json.Marshal(reader.Meta())
	if err != nil {
		t.Fatal(err)
	}

	hub := bus.NewLoopbackHub()
	defer hub.CloseAll()

	payloads := Payloads{
		"a": {},
		"b": {},
		"c": {Fetch: bus.Payload{Tag: bus.ImageMetaTag, Data: metaBytes}},
	}
	images := map[string]*image.Reader{name: reader}
	primary := New(payloads, images, nil, hub.Endpoint(), 5*time.Second, "")

	writerDir := t.TempDir()
	errs := make(chan error, 3)
	for _, serial := range []string{"a", "b"} {
		sec := New(serial, hub.Endpoint(), &step.Nop{Serial: serial, Sign: signReport}, 2*time.Second, "")
		go func() { errs <- sec.Listen() }()
	}
	cInstaller := &chunkInstaller{dir: writerDir, sign: signReport, serial: "c"}
	cSec := New("c", hub.Endpoint(), cInstaller, 2*time.Second, "")
	go func() { errs <- cSec.Listen() }()

	if err := primary.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("secondary listen failed: %v", err)
		}
	}
	if len(primary.Committed()) != 3 {
		t.Fatalf("expected 3 committed, got %v", primary.Committed())
	}
}

// chunkInstaller is a minimal step.Step that streams an ImageMeta payload
// at Fetch via an image.Writer and signs a report at Commit/Abort.
type chunkInstaller struct {
	dir    string
	sign   func(serial string, state bus.State, installed bool) uptane.TufSigned
	serial string
}

func (c *chunkInstaller) Step(state bus.State, payload *bus.Payload) (step.Result, error) {
	if state == bus.Fetch && payload != nil && payload.Tag == bus.ImageMetaTag {
		var meta image.Meta
		if err := json.Unmarshal(payload.Data, &meta); err != nil {
			return step.Result{}, err
		}
		w, err := image.NewWriter(meta, c.dir)
		if err != nil {
			return step.Result{}, err
		}
		return step.Result{Writer: w}, nil
	}
	if state.Terminal() {
		r := c.sign(c.serial, state, true)
		return step.Result{Report: &r}, nil
	}
	return step.Result{}, nil
}
