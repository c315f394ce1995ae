// visrt - receive, record and replay SpiNNaker telemetry
//
// Usage:
//
//	visrt listen [--record raw|spikes] [--out FILE]
//	visrt replay FILE [--speed S] [--record raw|spikes] [--out FILE]
//	visrt inspect FILE
//	visrt sessions
//	visrt send pause|resume|exit --to HOST:PORT
//
// Settings come from visrt.toml (see -c); flags override them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jbrzusto/visrt"
	"github.com/jbrzusto/visrt/capture"
	"github.com/jbrzusto/visrt/catalog"
	"github.com/jbrzusto/visrt/link"
	"github.com/jbrzusto/visrt/replay"
	"github.com/jbrzusto/visrt/sdp"
	"github.com/spf13/cobra"
)

var (
	configPath string
	l2gPath    string
	g2lPath    string
	hostIP     string
	recordAs   string
	outPath    string
	speed      float64
	sendTo     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "visrt",
	Short: "Receive, record and replay SpiNNaker telemetry",
	Long: `visrt listens for telemetry datagrams from a SpiNNaker board, keeps a
rolling history of the decoded values and can record the stream to disk,
either as raw packets or as a spike list.

Recordings of raw packets can be replayed at any speed between min_speed
and max_speed.  The replayed packets are sent to visrt's own listen port
and decoded like live traffic; when the replay ends the last state is
frozen.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive and decode telemetry until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listen(cmd.Context())
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Decode a raw capture as if it arrived live, then freeze",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return replayFile(cmd.Context(), args[0])
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Summarise a raw capture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := capture.ScanFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("file:     %s\n", args[0])
		fmt.Printf("records:  %s\n", humanize.Comma(int64(sum.Records)))
		fmt.Printf("payload:  %s\n", humanize.Bytes(uint64(sum.Bytes)))
		fmt.Printf("first:    %v\n", sum.First)
		fmt.Printf("last:     %v\n", sum.Last)
		fmt.Printf("span:     %v\n", sum.Span())
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recording sessions in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer catalog.CloseIfSupported(store)
		ss, err := store.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range ss {
			state := humanize.Time(s.Stopped)
			if s.Active() {
				state = "active"
			}
			fmt.Printf("%s  %-7s %-40s %10s packets %10s events  %s\n",
				s.ID, s.Format, s.Path, humanize.Comma(s.Packets), humanize.Comma(s.Events), state)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:       "send pause|resume|exit",
	Short:     "Send a control command to a board",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"pause", "resume", "exit"},
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := net.ResolveUDPAddr("udp4", sendTo)
		if err != nil {
			return fmt.Errorf("board address %q: %w", sendTo, err)
		}
		s, err := link.Dial(addr)
		if err != nil {
			return err
		}
		defer s.Close()
		var p *sdp.Packet
		switch args[0] {
		case "pause":
			p = sdp.Pause()
		case "resume":
			p = sdp.Resume()
		default:
			p = sdp.Exit()
		}
		return s.Command(p)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default: visrt.toml in /etc/visrt or .)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug messages")

	listenCmd.Flags().StringVar(&l2gPath, "l2g", "", "local to global population map")
	listenCmd.Flags().StringVar(&g2lPath, "g2l", "", "global to local population map")
	listenCmd.Flags().StringVar(&hostIP, "ip", "", "only accept packets from this board")
	listenCmd.Flags().StringVar(&recordAs, "record", "", "record the stream as raw or spikes")
	listenCmd.Flags().StringVar(&outPath, "out", "", "recording file (default: named by start time)")

	replayCmd.Flags().Float64Var(&speed, "speed", 1, "playback speed multiplier")
	replayCmd.Flags().StringVar(&l2gPath, "l2g", "", "local to global population map")
	replayCmd.Flags().StringVar(&g2lPath, "g2l", "", "global to local population map")
	replayCmd.Flags().StringVar(&recordAs, "record", "", "record the replayed stream as raw or spikes")
	replayCmd.Flags().StringVar(&outPath, "out", "", "recording file (default: named by start time)")

	sendCmd.Flags().StringVar(&sendTo, "to", "", "board address as host:port")
	sendCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(listenCmd, replayCmd, inspectCmd, sessionsCmd, sendCmd)
}

func loadConfig() (visrt.Config, error) {
	cfg, found, err := visrt.LoadConfig(configPath)
	if err != nil {
		return cfg, err
	}
	if !found {
		slog.Info("no configuration file; using defaults")
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg visrt.Config) (catalog.Store, error) {
	store, err := catalog.NewStore(cfg.Store, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		catalog.CloseIfSupported(store)
		return nil, err
	}
	return store, nil
}

// session is a running engine fed by a receiver on the configured
// port.
type session struct {
	e    *visrt.Engine
	rx   *link.Receiver
	errc chan error
}

// start loads the configuration, applies the command line overrides,
// opens the catalog and starts the engine and its receiver.
func start(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if l2gPath != "" {
		cfg.LocalToGlobal = l2gPath
	}
	if g2lPath != "" {
		cfg.GlobalToLocal = g2lPath
	}
	if hostIP != "" {
		cfg.Host = hostIP
	}
	var format capture.Format
	if recordAs != "" {
		if format, err = capture.ParseFormat(recordAs); err != nil {
			return nil, err
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rx, err := link.Listen(cfg.Port)
	if err != nil {
		catalog.CloseIfSupported(store)
		return nil, err
	}
	e, err := visrt.New(cfg, visrt.WithStore(store), visrt.WithCloser(rx))
	if err != nil {
		rx.Close()
		catalog.CloseIfSupported(store)
		return nil, err
	}
	slog.Info("listening", "addr", rx.Addr(), "mode", e.Mode(), "title", cfg.Title)

	if format != capture.FormatNone {
		path := outPath
		if path == "" {
			path = capture.DefaultName(format, time.Now())
		}
		rec, err := e.StartRecording(format, path)
		if err != nil {
			e.Shutdown()
			return nil, err
		}
		slog.Info("recording", "path", rec.Path, "format", rec.Format, "session", rec.ID)
	}

	s := &session{e: e, rx: rx, errc: make(chan error, 2)}
	go func() { s.errc <- e.Run(ctx) }()
	go func() {
		s.errc <- rx.Run(ctx, func(d link.Datagram) {
			if err := e.Ingest(ctx, d); err != nil {
				slog.Debug("ingest", "err", err)
			}
		})
	}()
	go e.Watch(ctx, 1, func(v visrt.View) {
		st := e.Stats()
		slog.Debug("status", "received", st.Received, "decoded", st.Decoded,
			"dropped", st.Dropped, "frozen", v.Frozen(), "peer", st.Peer)
	})
	return s, nil
}

// stop shuts the engine down and reports what was recorded.
func (s *session) stop() {
	st := s.e.Stats()
	slog.Info("stopped", "received", humanize.Comma(st.Received), "decoded", humanize.Comma(st.Decoded),
		"dropped", st.Dropped, "frozen", st.Frozen)
	if st.Recording != nil {
		slog.Info("recorded", "file", st.Recording.String())
	}
	if err := s.e.Shutdown(); err != nil {
		slog.Warn("shutdown", "err", err)
	}
}

func listen(ctx context.Context) error {
	s, err := start(ctx)
	if err != nil {
		return err
	}
	defer s.stop()
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.errc:
		return err
	}
}

// replayFile plays a capture into this process's own listen port, so
// the packets take the same path as live traffic, then holds the last
// state frozen.
func replayFile(ctx context.Context, path string) error {
	s, err := start(ctx)
	if err != nil {
		return err
	}
	defer s.stop()
	cfg := s.e.Config()
	out, err := link.DialPort(s.rx.Addr().Port)
	if err != nil {
		return err
	}
	defer out.Close()
	r := replay.Engine{
		Sender:    out,
		Speed:     speed,
		MinSpeed:  cfg.MinSpeed,
		MaxSpeed:  cfg.MaxSpeed,
		ChunkSize: cfg.ChunkSize,
		Logger:    slog.Default(),
		OnDone:    s.e.FreezeWhenQuiet,
	}
	st, err := r.Run(ctx, path)
	if err != nil {
		return err
	}
	slog.Info("replayed", "sent", humanize.Comma(int64(st.Sent)), "late", st.Late,
		"max_lag", st.MaxLag, "elapsed", st.Elapsed)

	// wait for the queue to drain and the display to freeze
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case err := <-s.errc:
			s.errc <- err
			cancel()
		case <-wctx.Done():
		}
	}()
	s.e.Watch(wctx, 0, func(v visrt.View) {
		if v.Frozen() {
			cancel()
		}
	})
	select {
	case err := <-s.errc:
		return err
	default:
		return ctx.Err()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
