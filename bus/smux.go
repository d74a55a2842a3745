package bus

import (
	"encoding/json"
	"net"
	"time"

	"github.com/uplo-tech/errors"
	"github.com/xtaci/smux"
)

// SmuxBus is a point-to-point Bus transport multiplexed over a single
// net.Conn via smux (enrichment over the multicast reference transport of
// spec.md §6.3: useful when Primary and Secondary are joined by a single
// reliable stream, e.g. a serial link or an SSH tunnel, rather than a LAN
// multicast segment).
//
// Two smux streams carry the traffic: one dedicated to wake-up frames, one
// to message frames, so a large Resp frame on the message stream never
// head-of-line blocks a wake-up.
type SmuxBus struct {
	wakeStream net.Conn
	msgStream  net.Conn
	wakeEnc    *json.Encoder
	wakeDec    *json.Decoder
	msgEnc     *json.Encoder
	msgDec     *json.Decoder
	sess       *smux.Session
}

// NewSmuxBusClient opens a new smux session over conn and opens the two
// streams, in the order the server side (NewSmuxBusServer) accepts them.
func NewSmuxBusClient(conn net.Conn) (*SmuxBus, error) {
	sess, err := smux.Client(conn, nil)
	if err != nil {
		return nil, errors.AddContext(err, "could not open smux session")
	}
	wake, err := sess.OpenStream()
	if err != nil {
		sess.Close()
		return nil, errors.AddContext(err, "could not open wake-up stream")
	}
	msg, err := sess.OpenStream()
	if err != nil {
		sess.Close()
		return nil, errors.AddContext(err, "could not open message stream")
	}
	return newSmuxBus(sess, wake, msg), nil
}

// NewSmuxBusServer accepts a smux session over conn and accepts the two
// streams the client side opens.
func NewSmuxBusServer(conn net.Conn) (*SmuxBus, error) {
	sess, err := smux.Server(conn, nil)
	if err != nil {
		return nil, errors.AddContext(err, "could not accept smux session")
	}
	wake, err := sess.AcceptStream()
	if err != nil {
		sess.Close()
		return nil, errors.AddContext(err, "could not accept wake-up stream")
	}
	msg, err := sess.AcceptStream()
	if err != nil {
		sess.Close()
		return nil, errors.AddContext(err, "could not accept message stream")
	}
	return newSmuxBus(sess, wake, msg), nil
}

func newSmuxBus(sess *smux.Session, wake, msg net.Conn) *SmuxBus {
	return &SmuxBus{
		wakeStream: wake,
		msgStream:  msg,
		wakeEnc:    json.NewEncoder(wake),
		wakeDec:    json.NewDecoder(wake),
		msgEnc:     json.NewEncoder(msg),
		msgDec:     json.NewDecoder(msg),
		sess:       sess,
	}
}

// ReadWakeUp implements Bus.
func (b *SmuxBus) ReadWakeUp() (WakeUp, error) {
	b.wakeStream.SetReadDeadline(time.Now().Add(readTimeout))
	var w WakeUp
	if err := b.wakeDec.Decode(&w); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return WakeUp{}, ErrTimeout
		}
		return WakeUp{}, errors.AddContext(err, "could not decode wake-up frame")
	}
	return w, nil
}

// WriteWakeUp implements Bus.
func (b *SmuxBus) WriteWakeUp(serial string, txid [16]byte) error {
	return b.wakeEnc.Encode(WakeUp{Serial: serial, TxID: txid})
}

// ReadMessage implements Bus.
func (b *SmuxBus) ReadMessage() (Message, error) {
	b.msgStream.SetReadDeadline(time.Now().Add(readTimeout))
	var m Message
	if err := b.msgDec.Decode(&m); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Message{}, ErrTimeout
		}
		return Message{}, errors.AddContext(err, "could not decode message frame")
	}
	return m, nil
}

// WriteMessage implements Bus.
func (b *SmuxBus) WriteMessage(msg Message) error {
	return b.msgEnc.Encode(msg)
}

// Close implements Bus.
func (b *SmuxBus) Close() error {
	err1 := b.wakeStream.Close()
	err2 := b.msgStream.Close()
	err3 := b.sess.Close()
	return errors.Compose(err1, err2, err3)
}
