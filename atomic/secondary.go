package atomic

import (
	"encoding/json"
	"time"

	"github.com/uplo-tech/atomicupdate/bus"
	"github.com/uplo-tech/atomicupdate/image"
	"github.com/uplo-tech/atomicupdate/persist"
	"github.com/uplo-tech/atomicupdate/step"
	"github.com/uplo-tech/atomicupdate/uptane"
	"github.com/uplo-tech/errors"
)

// secondaryMetadata headers the checkpoint file a Secondary writes on every
// transition (spec.md §4.6).
var secondaryMetadata = persist.FixedMetadata{
	Header:  persist.NewSpecifier("AtomicSecondary"),
	Version: persist.NewSpecifier("1.0"),
}

// Secondary is the state machine running on one ECU (spec.md §4.4). The
// zero value is not usable; construct with New or Recover.
type Secondary struct {
	TxID    TransactionID `json:"txid"`
	HasTxID bool          `json:"has_txid"`
	Serial  string        `json:"serial"`
	State   State         `json:"state"`
	Next    State         `json:"next"`
	Started time.Time     `json:"started"`
	Timeout time.Duration `json:"timeout"`

	RecoverPath string            `json:"recover_path,omitempty"`
	Payload     *Payload          `json:"payload,omitempty"`
	Report      *uptane.TufSigned `json:"report,omitempty"`

	// writers is not serialized: a crash mid-chunk-transfer restarts that
	// image's transfer from index 0 on recovery, since State only
	// advances once the writer's assembly succeeds (see transition).
	writers map[string]*image.Writer `json:"-"`

	// Timing, if set, records each chunk write's duration for later
	// reporting (e.g. the CLI's post-transfer summary). Nil by default.
	Timing *image.TransferTiming `json:"-"`

	bus  bus.Bus  `json:"-"`
	step step.Step `json:"-"`
}

// New constructs a Secondary in Idle, ready to listen for a wake-up.
func New(serial string, b bus.Bus, s step.Step, timeout time.Duration, recoverPath string) *Secondary {
	return &Secondary{
		Serial:      serial,
		State:       Idle,
		Next:        Idle,
		Timeout:     timeout,
		RecoverPath: recoverPath,
		writers:     make(map[string]*image.Writer),
		bus:         b,
		step:        s,
	}
}

// Recover reconstructs a Secondary's checkpointed state from path, wiring
// in the live bus and step, and resets Started to now (spec.md §4.4).
func Recover(path string, b bus.Bus, s step.Step) (*Secondary, error) {
	var sec Secondary
	if err := persist.LoadJSON(secondaryMetadata, &sec, path); err != nil {
		return nil, errors.AddContext(err, "could not load secondary checkpoint")
	}
	sec.RecoverPath = path
	sec.writers = make(map[string]*image.Writer)
	sec.bus = b
	sec.step = s
	sec.Started = time.Now()
	return &sec, nil
}

// checkpoint persists the Secondary's state, if a recovery path was
// configured.
func (s *Secondary) checkpoint() error {
	if s.RecoverPath == "" {
		return nil
	}
	return persist.SaveJSON(secondaryMetadata, s, s.RecoverPath)
}

// Listen runs the Secondary's algorithm (spec.md §4.4) to completion: it
// awaits a matching wake-up (unless recovery already put it past Idle),
// then drives transitions until a terminal state is reached or an error
// forces an early return.
func (s *Secondary) Listen() error {
	if s.State == Idle {
		if err := s.awaitWakeUp(); err != nil {
			return err
		}
	}
	err := s.run()
	if s.RecoverPath != "" {
		persist.RemoveFile(s.RecoverPath)
	}
	if err != nil {
		return err
	}
	if s.State == Abort {
		return &AtomicAbortError{Serials: []string{s.Serial}}
	}
	return nil
}

// awaitWakeUp implements Phase A of spec.md §4.4.
func (s *Secondary) awaitWakeUp() error {
	for {
		w, err := s.bus.ReadWakeUp()
		if err == bus.ErrTimeout {
			continue
		}
		if err != nil {
			return errors.AddContext(err, "secondary wake-up read failed")
		}
		if w.Serial != s.Serial {
			continue
		}
		s.TxID = w.TxID
		s.HasTxID = true
		if err := s.transition(Ready, nil); err != nil {
			return err
		}
		return nil
	}
}

// run implements Phase B of spec.md §4.4.
func (s *Secondary) run() error {
	for !s.State.Terminal() {
		msg, err := s.bus.ReadMessage()
		if err == bus.ErrTimeout {
			if time.Since(s.Started) > s.Timeout {
				s.forceAbort()
				return ErrAtomicTimeout
			}
			continue
		}
		if err != nil {
			s.forceAbort()
			return errors.AddContext(err, "secondary message read failed")
		}

		switch msg.Tag {
		case bus.NextTag:
			n := msg.Next
			if !s.matches(n.TxID, n.Serial) {
				continue
			}
			if err := s.transition(n.State, n.Payload); err != nil {
				return err
			}
		case bus.RespTag:
			r := msg.Resp
			if !s.matches(r.TxID, r.Serial) {
				continue
			}
			if err := s.receiveChunk(*r); err != nil {
				s.forceAbort()
				return err
			}
		default:
			// Ack and Req are not meaningful inbound to a Secondary; ignore.
		}
	}
	return nil
}

func (s *Secondary) matches(txid TransactionID, serial string) bool {
	return s.HasTxID && s.TxID == txid && s.Serial == serial
}

// forceAbort best-effort transitions to Abort, swallowing any further
// error: it is called only when the caller is already about to return an
// error of its own.
func (s *Secondary) forceAbort() {
	if s.State.Terminal() {
		return
	}
	_ = s.transition(Abort, nil)
}

// transition implements spec.md §4.4's transition(target, payload).
func (s *Secondary) transition(target State, payload *Payload) error {
	if s.State == target {
		return s.writeAck(nil)
	}
	if !validTransition(s.State, target) {
		return &AtomicStateError{From: s.State, To: target}
	}

	s.Next = target
	s.Payload = payload
	s.Started = time.Now()
	if err := s.checkpoint(); err != nil {
		return errors.AddContext(err, "secondary could not checkpoint")
	}

	result, err := s.step.Step(target, payload)
	if err != nil {
		abortErr := &AtomicAbortError{Serials: []string{s.Serial}, Reason: err}
		if ackErr := s.transition(Abort, nil); ackErr != nil {
			return errors.Compose(abortErr, ackErr)
		}
		return abortErr
	}
	return s.applyStepResult(target, result)
}

func (s *Secondary) applyStepResult(target State, result step.Result) error {
	switch {
	case result.Writer != nil:
		name := result.Writer.Meta().Name
		s.writers[name] = result.Writer
		if err := s.bus.WriteMessage(bus.NewReq(bus.ReqMsg{
			TxID:   s.TxID,
			Serial: s.Serial,
			Image:  name,
			Index:  0,
		})); err != nil {
			return errors.AddContext(err, "secondary could not request first chunk")
		}
		return nil
	case result.Report != nil:
		s.Report = result.Report
		s.State = s.Next
		return s.writeAck(result.Report)
	default:
		s.State = s.Next
		return s.writeAck(nil)
	}
}

// receiveChunk implements the Resp-handling half of Phase B: write the
// chunk, request the next one or assemble, per spec.md §4.4.
func (s *Secondary) receiveChunk(r bus.RespMsg) error {
	w, ok := s.writers[r.Image]
	if !ok {
		return errors.AddContext(image.ErrNotFound, "secondary has no writer for image "+r.Image)
	}
	writeStart := time.Now()
	if err := w.WriteChunk(r.Chunk, r.Index); err != nil {
		return errors.AddContext(err, "secondary could not write chunk")
	}
	if s.Timing != nil {
		s.Timing.Observe(time.Since(writeStart))
	}
	if err := s.checkpoint(); err != nil {
		return errors.AddContext(err, "secondary could not checkpoint after chunk write")
	}
	if !w.Complete() {
		return s.bus.WriteMessage(bus.NewReq(bus.ReqMsg{
			TxID:   s.TxID,
			Serial: s.Serial,
			Image:  r.Image,
			Index:  r.Index + 1,
		}))
	}
	if err := w.AssembleChunks(); err != nil {
		return errors.AddContext(err, "secondary could not assemble image")
	}
	delete(s.writers, r.Image)
	s.State = s.Next
	return s.writeAck(s.Report)
}

// writeAck implements spec.md §4.4's Ack rule: a terminal state requires a
// non-nil report.
func (s *Secondary) writeAck(report *uptane.TufSigned) error {
	if s.State.Terminal() && report == nil {
		return ErrAtomicSigned
	}
	var raw []byte
	if report != nil {
		data, err := json.Marshal(report)
		if err != nil {
			return errors.AddContext(err, "secondary could not encode report")
		}
		raw = data
	}
	return s.bus.WriteMessage(bus.NewAck(bus.AckMsg{
		TxID:   s.TxID,
		Serial: s.Serial,
		State:  s.State,
		Report: raw,
	}))
}
