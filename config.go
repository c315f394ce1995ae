package visrt

// this file contains all the code that directly uses the viper package.
import (
	"errors"
	"fmt"
	"time"

	"github.com/jbrzusto/visrt/buffer"
	"github.com/jbrzusto/visrt/coord"
	"github.com/jbrzusto/visrt/decode"
	"github.com/jbrzusto/visrt/link"
	"github.com/jbrzusto/visrt/replay"
	"github.com/spf13/viper"
)

// Config describes one visualisation: the shape of the grid, the mode
// used to decode packets, the history window and where packets come
// from.  Field tags name the keys of a parameter block in visrt.toml.
type Config struct {
	Title            string  `mapstructure:"title"`
	Mode             string  `mapstructure:"mode"`   // decode.Mode name or number
	Width            int     `mapstructure:"width"`  // grid cells across
	Height           int     `mapstructure:"height"` // grid cells up
	TileWidth        int     `mapstructure:"tile_width"`
	TileHeight       int     `mapstructure:"tile_height"`
	ChipsY           int     `mapstructure:"chips_y"` // 0: height / tile_height
	HistorySize      int     `mapstructure:"history_size"`
	MaxRasterNeurons int     `mapstructure:"max_raster_neurons"`
	TimeWindow       float64 `mapstructure:"time_window"` // seconds shown across the plot
	PlotWidth        int     `mapstructure:"plot_width"`  // history slots across the plot
	InitZero         bool    `mapstructure:"init_zero"`
	Port             int     `mapstructure:"port"`
	Host             string  `mapstructure:"host"` // only accept packets from this board
	FixedPoint       int     `mapstructure:"fixed_point"`
	PopIDBits        int     `mapstructure:"pop_id_bits"`
	Board            int     `mapstructure:"board"`
	PopulationCores  string  `mapstructure:"population_cores"` // topology file, for board 5
	XFlip            bool    `mapstructure:"xflip"`
	YFlip            bool    `mapstructure:"yflip"`
	VectorFlip       bool    `mapstructure:"vectorflip"`
	RotateFlip       bool    `mapstructure:"rotateflip"`
	GuardSlots       int     `mapstructure:"guard_slots"`
	QueueDepth       int     `mapstructure:"queue_depth"`
	MaxFrameRate     int     `mapstructure:"max_frame_rate"`
	MinSpeed         float64 `mapstructure:"min_speed"`
	MaxSpeed         float64 `mapstructure:"max_speed"`
	ChunkSize        int     `mapstructure:"chunk_size"`
	Store            string  `mapstructure:"store"` // session catalog: memory or sqlite
	DBPath           string  `mapstructure:"db_path"`
	LocalToGlobal    string  `mapstructure:"local_to_global"` // remap files
	GlobalToLocal    string  `mapstructure:"global_to_local"`
}

// DefaultConfig returns the settings used with no configuration file:
// a 48-chip heat map.
func DefaultConfig() Config {
	return Config{
		Title:            "48-chip heat map",
		Mode:             decode.Heatmap.String(),
		Width:            32,
		Height:           32,
		TileWidth:        4,
		TileHeight:       4,
		HistorySize:      3500,
		MaxRasterNeurons: 1024,
		TimeWindow:       3.5,
		PlotWidth:        630,
		Port:             link.DefaultPort,
		FixedPoint:       16,
		Board:            3,
		GuardSlots:       buffer.DefaultGuardSlots,
		QueueDepth:       1024,
		MaxFrameRate:     25,
		MinSpeed:         replay.DefaultMinSpeed,
		MaxSpeed:         replay.DefaultMaxSpeed,
		ChunkSize:        replay.DefaultChunkSize,
		Store:            "memory",
		DBPath:           "visrt.db",
		LocalToGlobal:    "maplocaltoglobal.csv",
		GlobalToLocal:    "mapglobaltolocal.csv",
	}
}

// LoadConfig reads configuration from a TOML file.  With an empty path
// it looks for visrt.toml in /etc/visrt and then in the current
// directory; if there is none, it returns the defaults and found is
// false.  An explicit path must exist.
//
// The file names its parameter block with a top-level "simparams" key,
// so one file can hold settings for several demos:
//
//	simparams = "retina"
//
//	[retina]
//	mode = "retina"
//	width = 128
//	height = 128
//
// Keys missing from the block keep their default values.  Without
// simparams the top level of the file is used.
func LoadConfig(path string) (cfg Config, found bool, err error) {
	cfg = DefaultConfig()
	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("visrt")      // name of config file (without extension)
		v.AddConfigPath("/etc/visrt") // path to look for the config file in
		v.AddConfigPath(".")          // optionally look for config in the working directory
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) {
			return cfg, false, nil
		}
		return cfg, false, err
	}
	if block := v.GetString("simparams"); block != "" {
		if !v.IsSet(block) {
			return cfg, true, fmt.Errorf("%s: no parameter block %q", v.ConfigFileUsed(), block)
		}
		err = v.UnmarshalKey(block, &cfg)
	} else {
		err = v.Unmarshal(&cfg)
	}
	if err != nil {
		return cfg, true, fmt.Errorf("%s: %w", v.ConfigFileUsed(), err)
	}
	return cfg, true, cfg.Validate()
}

// Validate checks that the settings are consistent.
func (c Config) Validate() error {
	var errs []error
	if _, err := decode.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if err := c.Grid().Check(); err != nil {
		errs = append(errs, err)
	}
	if c.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("history_size %d must be positive", c.HistorySize))
	}
	if c.PlotWidth <= 0 || c.PlotWidth > c.HistorySize {
		errs = append(errs, fmt.Errorf("plot_width %d must be in 1..history_size", c.PlotWidth))
	}
	if c.GuardSlots < 0 || (c.HistorySize > 0 && c.GuardSlots >= c.HistorySize) {
		errs = append(errs, fmt.Errorf("guard_slots %d must be in 0..history_size-1", c.GuardSlots))
	}
	if c.SlotDuration() < time.Microsecond {
		errs = append(errs, fmt.Errorf("time_window %gs is too short for %d slots", c.TimeWindow, c.PlotWidth))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Board == 5 && c.PopulationCores == "" {
		errs = append(errs, errors.New("board 5 needs a population_cores file"))
	}
	return errors.Join(errs...)
}

// Grid returns the grid geometry.
func (c Config) Grid() coord.Grid {
	return coord.Grid{Width: c.Width, Height: c.Height, TileWidth: c.TileWidth, TileHeight: c.TileHeight}
}

// Transform returns the initial orientation toggles.
func (c Config) Transform() coord.Transform {
	return coord.Transform{YFlip: c.YFlip, XFlip: c.XFlip, VectorFlip: c.VectorFlip, Rotate: c.RotateFlip}
}

// SlotDuration returns the time covered by one history row: the time
// window spread over the plot width.
func (c Config) SlotDuration() time.Duration {
	if c.PlotWidth <= 0 {
		return 0
	}
	return time.Duration(c.TimeWindow * float64(time.Second) / float64(c.PlotWidth))
}

// FrameInterval returns the minimum time between rendered frames.
func (c Config) FrameInterval() time.Duration {
	if c.MaxFrameRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.MaxFrameRate)
}
