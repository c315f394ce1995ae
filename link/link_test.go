package link

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jbrzusto/visrt/sdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (*Receiver, <-chan Datagram, func()) {
	t.Helper()
	r, err := ListenAddr("127.0.0.1:0")
	require.NoError(t, err)
	ch := make(chan Datagram, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, func(d Datagram) { ch <- d }) }()
	return r, ch, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("receiver did not stop")
		}
	}
}

func recv(t *testing.T, ch <-chan Datagram) Datagram {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram")
	}
	return Datagram{}
}

func TestLoopback(t *testing.T) {
	r, ch, stop := listen(t)
	defer stop()

	s, err := DialPort(r.Addr().Port)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, r.Addr().Port, s.Addr().Port)

	require.NoError(t, s.Send([]byte{1, 2, 3}))
	d := recv(t, ch)
	assert.Equal(t, []byte{1, 2, 3}, d.Payload)
	assert.True(t, d.From.IP.IsLoopback())
	assert.False(t, d.At.IsZero())

	require.NoError(t, s.Command(sdp.Pause()))
	d = recv(t, ch)
	p, err := sdp.Parse(d.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(sdp.CmdPause), p.Cmd)
	assert.Equal(t, uint8(sdp.ControlPort), p.DestPort)
}

func TestSenderWithoutPeer(t *testing.T) {
	s, err := Dial(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Send([]byte{1}), ErrNoPeer)
	assert.Nil(t, s.Addr())
	assert.NoError(t, s.Close())
}

func TestSenderRedirect(t *testing.T) {
	r1, ch1, stop1 := listen(t)
	defer stop1()
	r2, ch2, stop2 := listen(t)
	defer stop2()

	s, err := DialPort(r1.Addr().Port)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Send([]byte{1}))
	assert.Equal(t, []byte{1}, recv(t, ch1).Payload)

	require.NoError(t, s.SetAddr(r2.Addr()))
	require.NoError(t, s.Send([]byte{2}))
	assert.Equal(t, []byte{2}, recv(t, ch2).Payload)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send([]byte{3}), ErrNoPeer)
}

func TestPeerLearnsFirstSender(t *testing.T) {
	p, err := NewPeer("")
	require.NoError(t, err)
	assert.Nil(t, p.Addr())

	a := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 17893}
	b := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 9}
	assert.True(t, p.Accept(b))
	assert.True(t, p.Learn(a))
	assert.False(t, p.Learn(b))
	assert.Equal(t, a.String(), p.Addr().String())
	assert.False(t, p.Learn(nil))
}

func TestPeerWithHost(t *testing.T) {
	p, err := NewPeer("10.0.0.2")
	require.NoError(t, err)
	assert.Nil(t, p.Addr(), "port not yet known")

	other := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 9}
	board := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 17893}
	assert.False(t, p.Accept(other))
	assert.False(t, p.Accept(nil))
	assert.True(t, p.Accept(board))
	assert.True(t, p.Learn(board))
	assert.Equal(t, "10.0.0.2:17893", p.Addr().String())
}

func TestRunStopsOnClose(t *testing.T) {
	r, err := ListenAddr("127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), func(Datagram) {}) }()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
