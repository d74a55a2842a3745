package bus

import (
	"context"
	"encoding/json"
	"net"
	"syscall"
	"time"

	"github.com/uplo-tech/errors"
	"github.com/uplo-tech/ratelimit"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// maxFrameLen is the bus MTU: 64 KiB, with no margin subtracted for
// framing overhead.
const maxFrameLen = 64 * 1024

// readTimeout is the poll window a Bus read blocks for before returning
// ErrTimeout, letting the caller interleave deadline checks (spec.md §5).
const readTimeout = 1 * time.Second

// MulticastBus is the reference Bus transport (spec.md §6.3): two IPv4
// multicast groups, one for wake-ups and one for messages, each a UDP
// socket with SO_REUSEADDR+SO_REUSEPORT+SO_BROADCAST so Primary and
// Secondaries can share a host during testing.
type MulticastBus struct {
	wakeConn *net.UDPConn
	msgConn  *net.UDPConn
	wakeAddr *net.UDPAddr
	msgAddr  *net.UDPAddr
}

// NewMulticastBus joins the wake-up and message multicast groups at
// wakeGroup and msgGroup (each "ipv4-multicast-addr:port"). The rl argument
// is not used: neither socket is rate-limited.
func NewMulticastBus(wakeGroup, msgGroup string, rl *ratelimit.RateLimit) (*MulticastBus, error) {
	wakeAddr, err := net.ResolveUDPAddr("udp4", wakeGroup)
	if err != nil {
		return nil, errors.AddContext(err, "could not resolve wake-up group")
	}
	msgAddr, err := net.ResolveUDPAddr("udp4", msgGroup)
	if err != nil {
		return nil, errors.AddContext(err, "could not resolve message group")
	}
	wakeConn, err := listenMulticast(wakeAddr)
	if err != nil {
		return nil, errors.AddContext(err, "could not join wake-up group")
	}
	msgConn, err := listenMulticast(msgAddr)
	if err != nil {
		wakeConn.Close()
		return nil, errors.AddContext(err, "could not join message group")
	}
	return &MulticastBus{
		wakeConn: wakeConn,
		msgConn:  msgConn,
		wakeAddr: wakeAddr,
		msgAddr:  msgAddr,
	}, nil
}

// listenMulticast binds a UDP socket to addr's port on 0.0.0.0, enables
// SO_REUSEADDR/SO_REUSEPORT/SO_BROADCAST, joins the multicast group, and
// sets a 64 KiB send/recv buffer (spec.md §6.3).
func listenMulticast(addr *net.UDPAddr) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctrlErr = err
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					ctrlErr = err
					return
				}
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	bindAddr := &net.UDPAddr{IP: net.IPv4zero, Port: addr.Port}
	pc, err := lc.ListenPacket(context.Background(), "udp4", bindAddr.String())
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)

	pconn := ipv4.NewPacketConn(conn)
	iface, err := multicastInterface()
	if err == nil {
		_ = pconn.JoinGroup(iface, &net.UDPAddr{IP: addr.IP})
	} else {
		_ = pconn.JoinGroup(nil, &net.UDPAddr{IP: addr.IP})
	}

	if err := conn.SetReadBuffer(maxFrameLen); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.SetWriteBuffer(maxFrameLen); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// multicastInterface returns the first multicast-capable network interface,
// used so JoinGroup is not left to the kernel's default route guess.
func multicastInterface() (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		if ifaces[i].Flags&net.FlagMulticast != 0 && ifaces[i].Flags&net.FlagUp != 0 {
			return &ifaces[i], nil
		}
	}
	return nil, errors.New("no multicast-capable interface found")
}

// ReadWakeUp implements Bus.
func (b *MulticastBus) ReadWakeUp() (WakeUp, error) {
	var w WakeUp
	data, err := readFrame(b.wakeConn)
	if err != nil {
		return WakeUp{}, err
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return WakeUp{}, errors.AddContext(err, "could not decode wake-up frame")
	}
	return w, nil
}

// WriteWakeUp implements Bus.
func (b *MulticastBus) WriteWakeUp(serial string, txid [16]byte) error {
	data, err := json.Marshal(WakeUp{Serial: serial, TxID: txid})
	if err != nil {
		return errors.AddContext(err, "could not encode wake-up frame")
	}
	_, err = b.wakeConn.WriteToUDP(data, b.wakeAddr)
	return err
}

// ReadMessage implements Bus.
func (b *MulticastBus) ReadMessage() (Message, error) {
	var m Message
	data, err := readFrame(b.msgConn)
	if err != nil {
		return Message{}, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, errors.AddContext(err, "could not decode message frame")
	}
	return m, nil
}

// WriteMessage implements Bus.
func (b *MulticastBus) WriteMessage(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.AddContext(err, "could not encode message frame")
	}
	if len(data) > maxFrameLen {
		return errors.New("message frame exceeds bus MTU")
	}
	_, err = b.msgConn.WriteToUDP(data, b.msgAddr)
	return err
}

// Close implements Bus.
func (b *MulticastBus) Close() error {
	err1 := b.wakeConn.Close()
	err2 := b.msgConn.Close()
	return errors.Compose(err1, err2)
}

// readFrame blocks up to readTimeout for a single UDP datagram, returning
// ErrTimeout if none arrives.
func readFrame(conn *net.UDPConn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, maxFrameLen)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return buf[:n], nil
}
