// Wire formats for SpiNNaker telemetry.
//
// Two packet shapes arrive on the listen port:
//
//   - SDP messages (the usual case): a 26-byte header of single byte
//     flag, tag and port fields, 16-bit chip addresses and command
//     fields, three 32-bit arguments, then up to MaxDataWords 32-bit
//     data words.  All fields are little-endian, the byte order of
//     the ARM cores that emit them.
//
//   - raw "spinn" packets: an 18-byte header of 16-bit version and
//     four 32-bit fields in network byte order, then little-endian
//     data words.  These carry discovery hellos and retina stimuli.
//
// Header layouts are described by struct tags so that tools can
// print them; see Fields.
package sdp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// sizes and limits
const (
	MaxDatagram    = 1515 // receive buffer size
	MaxDataWords   = 364  // (1500 - 20 - 8 - 26) / 4, rounded up for the spinn header
	HeaderLen      = 26   // SDP header length
	SpinnHeaderLen = 18   // spinn header length
)

// spinn command codes
const (
	Hello  = 0x41 // discovery broadcast from the board
	P2P    = 0x3A // point to point output from the board
	StimIn = 0x49 // stimulus into the board (retina)
)

var (
	// ErrShort means a datagram is too short for the header it claims.
	ErrShort = errors.New("packet shorter than header")
	// ErrTooLong means a packet carries more than MaxDataWords data words.
	ErrTooLong = errors.New("too many data words")
)

// Header is the SDP message header.
type Header struct {
	Timeout  uint8  `off:"0" desc:"IP tag timeout; unused on the host"`
	Pad      uint8  `off:"1" desc:"padding to align the SDP header"`
	Flags    uint8  `off:"2" desc:"SDP flags; 7 for host originated messages"`
	Tag      uint8  `off:"3" desc:"IP tag; 255 for host originated messages"`
	DestPort uint8  `off:"4" desc:"destination port (bits 7:5) and core (bits 4:0)"`
	SrcePort uint8  `off:"5" desc:"source port (bits 7:5) and core (bits 4:0); 0xFF from Ethernet"`
	DestAddr uint16 `off:"6" desc:"destination chip: x in bits 15:8, y in bits 7:0"`
	SrceAddr uint16 `off:"8" desc:"source chip: x in bits 15:8, y in bits 7:0"`
	Cmd      uint16 `off:"10" desc:"command or return code"`
	Seq      uint16 `off:"12" desc:"sequence number; always 0"`
	Arg1     uint32 `off:"14" desc:"argument 1"`
	Arg2     uint32 `off:"18" desc:"argument 2"`
	Arg3     uint32 `off:"22" desc:"argument 3"`
}

// SrcChip returns the source chip coordinates.
func (h *Header) SrcChip() (x, y int) {
	return int(h.SrceAddr >> 8), int(h.SrceAddr & 0xFF)
}

// Packet is a decoded SDP message.
type Packet struct {
	Header
	Data []uint32
}

// Parse decodes an SDP message.  Trailing bytes that do not make up a
// whole data word are ignored.
func Parse(b []byte) (*Packet, error) {
	if len(b) < HeaderLen {
		return nil, fmt.Errorf("sdp: %d bytes: %w", len(b), ErrShort)
	}
	le := binary.LittleEndian
	p := &Packet{
		Header: Header{
			Timeout:  b[0],
			Pad:      b[1],
			Flags:    b[2],
			Tag:      b[3],
			DestPort: b[4],
			SrcePort: b[5],
			DestAddr: le.Uint16(b[6:]),
			SrceAddr: le.Uint16(b[8:]),
			Cmd:      le.Uint16(b[10:]),
			Seq:      le.Uint16(b[12:]),
			Arg1:     le.Uint32(b[14:]),
			Arg2:     le.Uint32(b[18:]),
			Arg3:     le.Uint32(b[22:]),
		},
	}
	p.Data = words(b[HeaderLen:])
	return p, nil
}

// Marshal encodes an SDP message.
func (p *Packet) Marshal() ([]byte, error) {
	if len(p.Data) > MaxDataWords {
		return nil, fmt.Errorf("sdp: %d words: %w", len(p.Data), ErrTooLong)
	}
	b := make([]byte, HeaderLen, HeaderLen+4*len(p.Data))
	le := binary.LittleEndian
	b[0] = p.Timeout
	b[1] = p.Pad
	b[2] = p.Flags
	b[3] = p.Tag
	b[4] = p.DestPort
	b[5] = p.SrcePort
	le.PutUint16(b[6:], p.DestAddr)
	le.PutUint16(b[8:], p.SrceAddr)
	le.PutUint16(b[10:], p.Cmd)
	le.PutUint16(b[12:], p.Seq)
	le.PutUint32(b[14:], p.Arg1)
	le.PutUint32(b[18:], p.Arg2)
	le.PutUint32(b[22:], p.Arg3)
	for _, w := range p.Data {
		b = le.AppendUint32(b, w)
	}
	return b, nil
}

func words(b []byte) []uint32 {
	n := len(b) / 4
	w := make([]uint32, n)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return w
}
