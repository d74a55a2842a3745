package atomic

import (
	"encoding/json"
	"time"

	"github.com/uplo-tech/atomicupdate/bus"
	"github.com/uplo-tech/atomicupdate/image"
	"github.com/uplo-tech/atomicupdate/persist"
	"github.com/uplo-tech/atomicupdate/uptane"
	"github.com/uplo-tech/errors"
)

// primaryMetadata headers the checkpoint file a Primary writes on every
// transition (spec.md §4.6).
var primaryMetadata = persist.FixedMetadata{
	Header:  persist.NewSpecifier("AtomicPrimary"),
	Version: persist.NewSpecifier("1.0"),
}

// commitSequence is the fixed order commit() drives transitions through
// (spec.md §4.5).
var commitSequence = []State{Ready, Verify, Fetch, Commit}

// Primary is the orchestrator driving a transaction across N Secondaries
// (spec.md §4.5). The zero value is not usable; construct with New or
// Recover.
type Primary struct {
	TxID     TransactionID        `json:"txid"`
	State    State                `json:"state"`
	Payloads Payloads             `json:"payloads"`
	Acks     map[State]map[string]struct{} `json:"acks"`
	Signed   map[string]*uptane.TufSigned  `json:"signed"`
	Started  time.Time            `json:"started"`
	Timeout  time.Duration        `json:"timeout"`

	RecoverPath string `json:"recover_path,omitempty"`
	// TimedOut records whether the transaction's terminal Abort was
	// reached because the Primary's own deadline elapsed, as opposed to a
	// foreign Abort Ack or a bus read error. It is checkpointed with the
	// rest of the Primary; the error Commit returns does not depend on it.
	TimedOut bool `json:"timed_out"`

	// Manifests holds the fallback signed report per serial, used by
	// IntoSigned when a live transaction produced none for that ECU.
	Manifests map[string]*uptane.TufSigned `json:"-"`
	// images is not serialized: an ImageReader is a read-only view over a
	// local file and is trivially reconstructed by the caller of Recover.
	images map[string]*image.Reader `json:"-"`

	bus bus.Bus `json:"-"`
}

// New constructs a Primary with a fresh TransactionID, in Idle, with an
// empty ack set for each state it drives (Ready, Verify, Fetch, Commit,
// Abort).
func New(payloads Payloads, images map[string]*image.Reader, manifests map[string]*uptane.TufSigned, b bus.Bus, timeout time.Duration, recoverPath string) *Primary {
	acks := make(map[State]map[string]struct{})
	for _, st := range append(append([]State{}, commitSequence...), Abort) {
		acks[st] = make(map[string]struct{})
	}
	return &Primary{
		TxID:        NewTransactionID(),
		State:       Idle,
		Payloads:    payloads,
		Acks:        acks,
		Signed:      make(map[string]*uptane.TufSigned),
		Timeout:     timeout,
		RecoverPath: recoverPath,
		Manifests:   manifests,
		images:      images,
		bus:         b,
	}
}

// Recover reconstructs a Primary's checkpointed state from path, wiring in
// the live bus and images, and resets Started to now (spec.md §4.6).
func Recover(path string, b bus.Bus, images map[string]*image.Reader, manifests map[string]*uptane.TufSigned) (*Primary, error) {
	var p Primary
	if err := persist.LoadJSON(primaryMetadata, &p, path); err != nil {
		return nil, errors.AddContext(err, "could not load primary checkpoint")
	}
	p.RecoverPath = path
	p.images = images
	p.Manifests = manifests
	p.bus = b
	p.Started = time.Now()
	if err := p.sendRequest(p.State); err != nil {
		return nil, errors.AddContext(err, "could not re-broadcast state request on recovery")
	}
	return &p, nil
}

func (p *Primary) checkpoint() error {
	if p.RecoverPath == "" {
		return nil
	}
	return persist.SaveJSON(primaryMetadata, p, p.RecoverPath)
}

// serials returns every serial named in Payloads, in map-iteration order.
func (p *Primary) serials() []string {
	out := make([]string, 0, len(p.Payloads))
	for serial := range p.Payloads {
		out = append(out, serial)
	}
	return out
}

// Committed returns the set of serials that acked Commit.
func (p *Primary) Committed() map[string]struct{} {
	return p.Acks[Commit]
}

// Aborted returns the set of serials that acked Abort.
func (p *Primary) Aborted() map[string]struct{} {
	return p.Acks[Abort]
}

// Commit drives the transaction through Ready, Verify, Fetch, Commit in
// order (spec.md §4.5), then deletes the recovery file.
func (p *Primary) Commit() error {
	var err error
	for _, target := range commitSequence {
		if err = p.transition(target); err != nil {
			break
		}
	}
	if p.RecoverPath != "" {
		persist.RemoveFile(p.RecoverPath)
	}
	return err
}

// transition implements spec.md §4.5's transition(target): an invalid
// source->target request is silently ignored (protocol-level idempotence
// that makes commit()'s sequential calls safe once the transaction has
// already aborted).
func (p *Primary) transition(target State) error {
	if !validTransition(p.State, target) {
		return nil
	}
	p.Started = time.Now()
	p.State = target
	if err := p.checkpoint(); err != nil {
		return errors.AddContext(err, "primary could not checkpoint")
	}
	if err := p.sendRequest(target); err != nil {
		return errors.AddContext(err, "primary could not send state request")
	}

	for p.State == target && len(p.Acks[target]) < len(p.Payloads) {
		msg, err := p.bus.ReadMessage()
		if err == bus.ErrTimeout {
			if time.Since(p.Started) > p.Timeout {
				p.cascadeAbort(true)
				return ErrAtomicTimeout
			}
			if err := p.sendRequest(target); err != nil {
				return errors.AddContext(err, "primary could not retry state request")
			}
			continue
		}
		if err != nil {
			p.cascadeAbort(false)
			return errors.AddContext(err, "primary message read failed")
		}
		if abortSerial, ok := p.handleMessage(target, msg); ok {
			p.cascadeAbort(false)
			return &AtomicAbortError{Serials: p.abortedSerials(), Reason: errors.New("serial " + abortSerial + " aborted")}
		}
	}
	return nil
}

// handleMessage implements the per-message dispatch inside transition's
// wait loop. It returns (serial, true) when msg is the first Ack carrying
// a foreign Abort, signaling the caller to start the abort cascade.
func (p *Primary) handleMessage(target State, msg bus.Message) (string, bool) {
	switch msg.Tag {
	case bus.AckTag:
		a := msg.Ack
		if a.TxID != p.TxID {
			return "", false
		}
		p.Acks[a.State][a.Serial] = struct{}{}
		if len(a.Report) > 0 {
			var report uptane.TufSigned
			if err := json.Unmarshal(a.Report, &report); err == nil {
				p.Signed[a.Serial] = &report
			}
		}
		if a.State == Abort && p.State != Abort {
			return a.Serial, true
		}
	case bus.ReqTag:
		r := msg.Req
		if r.TxID != p.TxID {
			return "", false
		}
		reader, ok := p.images[r.Image]
		if !ok {
			return "", false
		}
		chunk, err := reader.ReadChunk(r.Index)
		if err != nil {
			return "", false
		}
		_ = p.bus.WriteMessage(bus.NewResp(bus.RespMsg{
			TxID:   p.TxID,
			Serial: r.Serial,
			Image:  r.Image,
			Index:  r.Index,
			Chunk:  chunk,
		}))
	}
	return "", false
}

// cascadeAbort drives the Primary itself into Abort, broadcasts an Abort
// request to every serial not yet acked at Abort, and waits (bounded by
// Timeout) for their Abort Acks - so that an abort observed mid-transition
// (spec.md §9's "abort propagates to all") reaches every reachable
// Secondary rather than only the one that triggered it. Stragglers that
// never respond (e.g. a Secondary still blocked inside its own installer)
// are simply absent from Aborted() when the wait expires.
func (p *Primary) cascadeAbort(timedOut bool) {
	p.State = Abort
	p.TimedOut = p.TimedOut || timedOut
	_ = p.checkpoint()
	_ = p.sendRequest(Abort)

	p.Started = time.Now()
	for len(p.Acks[Abort]) < len(p.Payloads) {
		msg, err := p.bus.ReadMessage()
		if err == bus.ErrTimeout {
			if time.Since(p.Started) > p.Timeout {
				return
			}
			continue
		}
		if err != nil {
			return
		}
		if msg.Tag == bus.AckTag && msg.Ack.TxID == p.TxID && msg.Ack.State == Abort {
			p.Acks[Abort][msg.Ack.Serial] = struct{}{}
		}
	}
}

// abortedSerials returns the serials currently recorded in Acks[Abort].
func (p *Primary) abortedSerials() []string {
	out := make([]string, 0, len(p.Acks[Abort]))
	for s := range p.Acks[Abort] {
		out = append(out, s)
	}
	return out
}

// sendRequest implements spec.md §4.5 step 3: a wake-up broadcast for
// Ready, or a Next per not-yet-acked serial otherwise.
func (p *Primary) sendRequest(target State) error {
	if target == Ready {
		for _, serial := range p.serials() {
			if err := p.bus.WriteWakeUp(serial, p.TxID); err != nil {
				return err
			}
		}
		return nil
	}
	acked := p.Acks[target]
	for serial, byState := range p.Payloads {
		if _, done := acked[serial]; done {
			continue
		}
		var payloadPtr *Payload
		if payload, ok := byState[target]; ok {
			payloadPtr = &payload
		}
		if err := p.bus.WriteMessage(bus.NewNext(bus.NextMsg{
			TxID:    p.TxID,
			Serial:  serial,
			State:   target,
			Payload: payloadPtr,
		})); err != nil {
			return err
		}
	}
	return nil
}

// IntoSigned collects a signed report per serial, spec.md §4.5: the live
// transaction's report if one was produced, otherwise the ECU's fallback
// manifest.
func (p *Primary) IntoSigned() map[string]*uptane.TufSigned {
	out := make(map[string]*uptane.TufSigned, len(p.Payloads))
	for _, serial := range p.serials() {
		if report, ok := p.Signed[serial]; ok {
			out[serial] = report
			continue
		}
		out[serial] = p.Manifests[serial]
	}
	return out
}
