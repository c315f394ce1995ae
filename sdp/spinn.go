package sdp

import (
	"encoding/binary"
	"fmt"
)

// SpinnHeader is the raw spinn packet header.  Unlike SDP, its
// fields are in network byte order.
type SpinnHeader struct {
	Version uint16 `off:"0" order:"be" desc:"protocol version"`
	Cmd     uint32 `off:"2" order:"be" desc:"command or return code; 0x41 is a hello"`
	Arg1    uint32 `off:"6" order:"be" desc:"argument 1"`
	Arg2    uint32 `off:"10" order:"be" desc:"argument 2"`
	Arg3    uint32 `off:"14" order:"be" desc:"argument 3"`
}

// SpinnPacket is a decoded spinn packet.
type SpinnPacket struct {
	SpinnHeader
	Data []uint32
}

// IsHello reports whether b is a discovery hello.  Hellos are
// recognised by the spinn command field whatever the packet shape.
func IsHello(b []byte) bool {
	return len(b) >= 6 && binary.BigEndian.Uint32(b[2:]) == Hello
}

// ParseSpinn decodes a spinn packet.
func ParseSpinn(b []byte) (*SpinnPacket, error) {
	if len(b) < SpinnHeaderLen {
		return nil, fmt.Errorf("spinn: %d bytes: %w", len(b), ErrShort)
	}
	be := binary.BigEndian
	p := &SpinnPacket{
		SpinnHeader: SpinnHeader{
			Version: be.Uint16(b[0:]),
			Cmd:     be.Uint32(b[2:]),
			Arg1:    be.Uint32(b[6:]),
			Arg2:    be.Uint32(b[10:]),
			Arg3:    be.Uint32(b[14:]),
		},
	}
	p.Data = words(b[SpinnHeaderLen:])
	return p, nil
}

// Marshal encodes a spinn packet.
func (p *SpinnPacket) Marshal() ([]byte, error) {
	if len(p.Data) > MaxDataWords {
		return nil, fmt.Errorf("spinn: %d words: %w", len(p.Data), ErrTooLong)
	}
	b := make([]byte, SpinnHeaderLen, SpinnHeaderLen+4*len(p.Data))
	be := binary.BigEndian
	be.PutUint16(b[0:], p.Version)
	be.PutUint32(b[2:], p.Cmd)
	be.PutUint32(b[6:], p.Arg1)
	be.PutUint32(b[10:], p.Arg2)
	be.PutUint32(b[14:], p.Arg3)
	for _, w := range p.Data {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b, nil
}
