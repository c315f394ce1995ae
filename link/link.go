// Package link moves SDP datagrams between the host and a SpiNNaker
// board over UDP.
package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jbrzusto/visrt/sdp"
)

// DefaultPort is the UDP port the board sends telemetry to.
const DefaultPort = 17894

// ErrNoPeer is returned by Send before the board's address is known.
var ErrNoPeer = errors.New("board address not known")

// A Datagram is one received packet.
type Datagram struct {
	Payload []byte
	From    *net.UDPAddr
	At      time.Time
}

// Receiver reads datagrams from a bound UDP socket.
type Receiver struct {
	conn *net.UDPConn
}

// Listen binds the UDP port on all interfaces.  Port 0 picks a free
// port; see Addr.
func Listen(port int) (*Receiver, error) {
	return ListenAddr(net.JoinHostPort("", strconv.Itoa(port)))
}

// ListenAddr binds the UDP address addr, such as "127.0.0.1:17894".
func ListenAddr(addr string) (*Receiver, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", addr, err)
	}
	return &Receiver{conn: conn}, nil
}

// Addr returns the bound address.
func (r *Receiver) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Run passes each datagram to fn until ctx is done or the socket is
// closed, in which case it returns nil.  Any other receive error is
// returned.  fn owns the datagram's payload.
func (r *Receiver) Run(ctx context.Context, fn func(Datagram)) error {
	stop := context.AfterFunc(ctx, func() { r.conn.Close() })
	defer stop()
	buf := make([]byte, sdp.MaxDatagram)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receiving: %w", err)
		}
		fn(Datagram{Payload: append([]byte(nil), buf[:n]...), From: from, At: time.Now()})
	}
}

// Close closes the socket, ending Run.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Peer is the board the host talks to.  It is learned from the first
// telemetry packet, unless a host was configured, in which case only
// that host's packets are accepted and just its port is learned.
type Peer struct {
	mu     sync.Mutex
	filter net.IP
	addr   *net.UDPAddr
}

// NewPeer returns a Peer restricted to host, or unrestricted if host
// is empty.
func NewPeer(host string) (*Peer, error) {
	p := &Peer{}
	if host == "" {
		return p, nil
	}
	ia, err := net.ResolveIPAddr("ip", host)
	if err != nil {
		return nil, fmt.Errorf("board host %q: %w", host, err)
	}
	p.filter = ia.IP
	p.addr = &net.UDPAddr{IP: ia.IP}
	return p, nil
}

// Accept reports whether a packet from addr should be processed.
func (p *Peer) Accept(from *net.UDPAddr) bool {
	if p.filter == nil {
		return true
	}
	return from != nil && p.filter.Equal(from.IP)
}

// Learn records from as the board's address if the address or its
// port is not yet known.  It returns true if the address changed.
func (p *Peer) Learn(from *net.UDPAddr) bool {
	if from == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.addr == nil:
		p.addr = &net.UDPAddr{IP: from.IP, Port: from.Port, Zone: from.Zone}
	case p.addr.Port == 0:
		p.addr.Port = from.Port
	default:
		return false
	}
	return true
}

// Addr returns the board address, or nil if it has no port yet.
func (p *Peer) Addr() *net.UDPAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addr == nil || p.addr.Port == 0 {
		return nil
	}
	a := *p.addr
	return &a
}

// Sender sends datagrams to one address, which may be changed.
type Sender struct {
	mu   sync.Mutex
	conn *net.UDPConn
}

// Dial returns a Sender to addr; a nil addr gives a Sender that
// returns ErrNoPeer until SetAddr.
func Dial(addr *net.UDPAddr) (*Sender, error) {
	s := &Sender{}
	if addr == nil {
		return s, nil
	}
	return s, s.SetAddr(addr)
}

// DialPort returns a Sender to the given port on the loopback
// interface, for replay.
func DialPort(port int) (*Sender, error) {
	return Dial(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
}

// SetAddr redirects the Sender to addr.
func (s *Sender) SetAddr(addr *net.UDPAddr) error {
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dialling %v: %w", addr, err)
	}
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Addr returns the destination, or nil.
func (s *Sender) Addr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr().(*net.UDPAddr)
}

// Send sends one datagram.
func (s *Sender) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNoPeer
	}
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("sending to %v: %w", s.conn.RemoteAddr(), err)
	}
	return nil
}

// Command encodes and sends an SDP message.
func (s *Sender) Command(p *sdp.Packet) error {
	b, err := p.Marshal()
	if err != nil {
		return err
	}
	return s.Send(b)
}

// Close closes the socket.  Later sends return ErrNoPeer.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
