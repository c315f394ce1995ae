package sdp

import "math/bits"

// Outbound command codes.
const (
	CmdExit       = 0   // stop the simulation
	CmdHeatmapSet = 1   // set heatmap edge temperatures; also "decrease" on the load port
	CmdPause      = 2   // pause the simulation; also "increase" on the load port
	CmdResume     = 3   // resume a paused simulation
	CmdKeepalive  = 99  // ignored by the board
	CmdRaster     = 258 // turn raster output of a population on or off
	CmdBias       = 259 // set the bias current of a (sub)population
)

// Fixed fields of every host originated message.
const (
	HostFlags    = 7
	HostTag      = 255
	HostSrcePort = 0xFF
	ControlPort  = 0x21           // port 1, core 1
	LoadPort     = 17 + (3 << 5)  // port 3, core 17
	PopPortBase  = 0x80           // port 4, core 0
	RasterOn     = 4              // raster flag bit in arg2
)

// ChipAddr packs chip coordinates into an SDP address.
func ChipAddr(x, y int) uint16 {
	return uint16(x&0xFF)<<8 | uint16(y&0xFF)
}

// NewCommand builds a host originated message for chip dest.  The
// board reads the destination address in network byte order, so it
// is stored swapped here and Marshal can treat every field alike.
func NewCommand(dest uint16, port uint8, cmd uint16, arg1, arg2, arg3 uint32, data ...uint32) *Packet {
	return &Packet{
		Header: Header{
			Flags:    HostFlags,
			Tag:      HostTag,
			DestPort: port,
			SrcePort: HostSrcePort,
			DestAddr: bits.ReverseBytes16(dest),
			Cmd:      cmd,
			Arg1:     arg1,
			Arg2:     arg2,
			Arg3:     arg3,
		},
		Data: data,
	}
}

// Pause builds the pause command sent to chip (0,0).
func Pause() *Packet {
	return NewCommand(0, ControlPort, CmdPause, 0, 0, 0, 0, 0, 0, 0)
}

// Resume builds the resume command sent to chip (0,0).
func Resume() *Packet {
	return NewCommand(0, ControlPort, CmdResume, 0, 0, 0, 0, 0, 0, 0)
}

// Exit builds the command that stops the simulation.
func Exit() *Packet {
	return NewCommand(0, ControlPort, CmdExit, 0, 0, 0, 0, 0, 0, 0)
}

// Keepalive builds a message the board discards.
func Keepalive() *Packet {
	return NewCommand(0, ControlPort, CmdKeepalive, 0, 0, 0, 0, 0, 0, 0)
}

// HeatmapSet sets the four edge temperatures of the heat diffusion
// demo, as 16.16 fixed point.
func HeatmapSet(north, east, south, west float64) *Packet {
	fx := func(v float64) uint32 { return uint32(int32(v * 65536)) }
	return NewCommand(0, ControlPort, CmdHeatmapSet, 0, 0, 0, fx(north), fx(east), fx(south), fx(west))
}

// Raster turns raster output of population pop on or off.
func Raster(pop int, on bool) *Packet {
	var a1 uint32
	if on {
		a1 = 1
	}
	return NewCommand(0, uint8(PopPortBase+pop+1), CmdRaster, a1, RasterOn, 0)
}

// Bias sets the bias current of subpopulation sub on core of chip
// dest, in 8.8 fixed point.
func Bias(dest uint16, core, sub int, bias float64) *Packet {
	return NewCommand(dest, uint8(PopPortBase+core), CmdBias, uint32(sub), 0, uint32(int32(bias*256)))
}

// Load asks the load generator on chip dest to raise or lower its
// CPU utilisation.
func Load(dest uint16, up bool) *Packet {
	var cmd uint16 = CmdHeatmapSet
	if up {
		cmd = CmdPause
	}
	return NewCommand(dest, LoadPort, cmd, 0, 0, 0)
}
