package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"motionduel/duel"
	"motionduel/motion"
	"motionduel/server"
)

type options struct {
	name          string
	addr          string
	join          string
	local         bool
	discoveryPort int
	logPath       string
	logLevel      string
	threshold     float64
	deadline      time.Duration
	calibrate     bool
	replay        string
}

func parseFlags() options {
	host, _ := os.Hostname()
	var o options
	flag.StringVar(&o.name, "name", host, "display name shown to the opponent")
	flag.StringVar(&o.addr, "addr", ":47801", "HTTP listen address for the duel endpoint and admin API")
	flag.StringVar(&o.join, "join", "", "host to join: ws://host:port/duel, or \"auto\" to search the LAN")
	flag.BoolVar(&o.local, "local", false, "play against a scripted opponent in-process")
	flag.IntVar(&o.discoveryPort, "discovery-port", server.DiscoveryPort, "UDP port for LAN discovery")
	flag.StringVar(&o.logPath, "log", "motionduel.log", "log file path")
	flag.StringVar(&o.logLevel, "log-level", "debug", "log level")
	flag.Float64Var(&o.threshold, "threshold", duel.DefaultThreshold, "punch threshold in g, clamped to [0.5, 5]")
	flag.DurationVar(&o.deadline, "deadline", 5*time.Second, "turn deadline, clamped to [3s, 5s]")
	flag.BoolVar(&o.calibrate, "calibrate", false, "measure the resting baseline before the match")
	flag.StringVar(&o.replay, "replay", "", "play a recorded x,y,z sample file instead of the keyboard")
	flag.Parse()
	return o
}

func main() {
	o := parseFlags()
	if err := server.InitLogger(o.logPath, o.logLevel); err != nil {
		panic(err)
	}
	defer server.SyncLogger()
	if err := run(o); err != nil {
		server.Log.Errorw("exit", "err", err)
		fmt.Fprintln(os.Stderr, err)
		server.SyncLogger()
		os.Exit(1)
	}
}

func run(o options) error {
	log := server.Log
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := duel.DefaultConfig()
	cfg.Threshold = o.threshold
	cfg.TurnDeadline = o.deadline
	cfg.Logger = log.Named("engine")
	engine := duel.NewEngine(cfg)

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	defer screen.Fini()
	screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorReset).Foreground(tcell.ColorReset))

	peerFirst := o.join != ""
	rematch := make(chan struct{}, 1)
	keys := func(ev *tcell.EventKey) {
		switch {
		case ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q':
			stop()
		case ev.Rune() == 'r':
			select {
			case rematch <- struct{}{}:
			default:
			}
		}
	}

	var src motion.Source
	if o.replay != "" {
		samples, err := motion.LoadFile(o.replay)
		if err != nil {
			return err
		}
		src = motion.NewScript(nil, motion.DefaultInterval, samples, false)
		go pollKeys(ctx, screen, keys)
	} else {
		kb := motion.NewKeyboard(screen, nil, motion.DefaultInterval)
		kb.OnKey(keys)
		src = kb
	}

	if o.calibrate {
		drawLines(screen, "calibrating: hold still...")
		th, err := engine.Calibrate(ctx, src)
		if err != nil {
			return fmt.Errorf("calibrate: %w", err)
		}
		log.Infow("threshold calibrated", "threshold", th)
	}

	mux := http.NewServeMux()
	sim := server.NewLinkSim()
	linkMetrics := &server.LinkMetrics{}
	linkOpts := server.LinkOptions{Name: o.name, Logger: log.Named("link"), Metrics: linkMetrics, Sim: sim}
	server.NewAdmin(engine, sim, linkMetrics).Register(mux)

	var closers []func() error
	var transport duel.Transport
	peerName := "bot"

	// the HTTP server must be up before a host can accept its guest
	var host *server.Host
	if !o.local && o.join == "" {
		host = server.NewHost(linkOpts)
		mux.Handle("/duel", host)
	}
	srv := &http.Server{Addr: o.addr, Handler: mux}
	go func() {
		log.Infof("motionduel listening on %s", o.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("listen", "err", err)
		}
	}()
	closers = append(closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	switch {
	case o.local:
		a, b := duel.NewPipe()
		transport = a
		closers = append(closers, a.Close, b.Close)
		if err := startBot(ctx, cfg, b); err != nil {
			return err
		}
	case o.join != "":
		url := o.join
		if url == "auto" {
			drawLines(screen, "searching the LAN for hosts...")
			if url, err = discoverHost(ctx, o.discoveryPort); err != nil {
				return err
			}
		}
		pc, err := server.Dial(ctx, url, linkOpts)
		if err != nil {
			return err
		}
		transport, peerName = pc, pc.PeerName()
		closers = append(closers, pc.Close)
		pc.OnClose(func(err error) { log.Warnw("host left", "err", err) })
	default:
		id := uuid.NewString()
		_, port, _ := net.SplitHostPort(o.addr)
		beacon, err := server.Advertise(fmt.Sprintf(":%d", o.discoveryPort), func() server.Announcement {
			return server.Announcement{ID: id, Name: o.name, URL: "ws://:" + port + "/duel", Busy: host.Busy()}
		})
		if err != nil {
			log.Warnw("LAN discovery unavailable", "err", err)
		} else {
			closers = append(closers, beacon.Close)
		}
		drawLines(screen, fmt.Sprintf("waiting for an opponent on %s ...", o.addr))
		pc, err := host.Accept(ctx)
		if errors.Is(err, context.Canceled) {
			return closeAll(nil, closers)
		}
		if err != nil {
			return closeAll(err, closers)
		}
		transport, peerName = pc, pc.PeerName()
		closers = append(closers, pc.Close)
		pc.OnClose(func(err error) { log.Warnw("guest left", "err", err) })
	}

	syncer := duel.NewSynchronizer(engine, transport)
	go func() { _ = engine.Run(ctx) }()

	if err := src.Start(ctx, syncer.HandleSample); err != nil {
		return closeAll(err, closers)
	}
	engine.Start(peerFirst)
	log.Infow("match started", "me", o.name, "peer", peerName, "peerAttacksFirst", peerFirst)

	sub := engine.Subscribe()
	defer sub.Close()
	for {
		select {
		case s := <-sub.C:
			drawStatus(screen, o.name, peerName, s)
		case <-rematch:
			if err := syncer.Rematch(!peerFirst); err != nil {
				log.Warnw("rematch not delivered to peer", "err", err)
			}
		case <-ctx.Done():
			src.Stop()
			log.Info("shutting down")
			return closeAll(nil, closers)
		}
	}
}

func closeAll(err error, closers []func() error) error {
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i]())
	}
	return err
}

func discoverHost(ctx context.Context, port int) (string, error) {
	hosts, err := server.Browse(ctx, fmt.Sprintf("255.255.255.255:%d", port), 2*time.Second)
	if err != nil {
		return "", err
	}
	for _, h := range hosts {
		if !h.Busy {
			server.Log.Infow("found host", "name", h.Name, "url", h.URL)
			return h.URL, nil
		}
	}
	return "", errors.New("no free host found on the LAN")
}

// startBot runs a scripted opponent on the other end of an in-memory pipe.
func startBot(ctx context.Context, cfg duel.Config, link *duel.Pipe) error {
	cfg.Logger = server.Log.Named("bot")
	bot := duel.NewEngine(cfg)
	botSync := duel.NewSynchronizer(bot, link)
	go func() { _ = bot.Run(ctx) }()

	var moves []duel.Sample
	for _, punch := range []duel.Sample{{Y: -3.5}, {X: 3}, {Y: 4}, {X: -3.2}} {
		for i := 0; i < 25; i++ {
			moves = append(moves, motion.Rest)
		}
		moves = append(moves, punch)
	}
	script := motion.NewScript(nil, motion.DefaultInterval, moves, true)
	if err := script.Start(ctx, botSync.HandleSample); err != nil {
		return err
	}
	bot.Start(true)
	return nil
}

// pollKeys feeds key presses to fn when no keyboard source owns the screen.
func pollKeys(ctx context.Context, screen tcell.Screen, fn func(*tcell.EventKey)) {
	for ctx.Err() == nil {
		switch ev := screen.PollEvent().(type) {
		case nil:
			return
		case *tcell.EventResize:
			screen.Sync()
		case *tcell.EventKey:
			fn(ev)
		}
	}
}

func drawLines(screen tcell.Screen, lines ...string) {
	screen.Clear()
	for y, l := range lines {
		drawText(screen, 0, y, tcell.StyleDefault, l)
	}
	screen.Show()
}

func drawStatus(screen tcell.Screen, me, peer string, s duel.Snapshot) {
	link := "connected"
	if !s.Connected {
		link = "DISCONNECTED"
	}
	role := "you defend"
	if s.LocalAttacks {
		role = "you attack"
	}
	lines := []string{
		fmt.Sprintf("%s vs %s  [%s]", me, peer, link),
		fmt.Sprintf("round %d/%d  score %d:%d  %s  (%s)", s.Round, s.MaxRounds, s.PlayerScore, s.EnemyScore, s.Phase, role),
		fmt.Sprintf("deadline %.0fs  cooldown %s  threshold %.2f", s.DeadlineRemaining.Seconds(), bar(s.CooldownProgress, 10), s.Threshold),
		fmt.Sprintf("incoming %s  outgoing %s", describe(s.PendingPeer), describe(s.PendingSelf)),
	}
	switch {
	case s.Result != nil:
		lines = append(lines, fmt.Sprintf("GAME OVER: you %s", strings.ToUpper(s.Result.String())))
	case s.LastResolution != nil:
		lines = append(lines, "last turn: "+s.LastResolution.String())
	default:
		lines = append(lines, "")
	}
	if s.LastSendError != "" {
		lines = append(lines, "send error: "+s.LastSendError)
	}
	lines = append(lines, "", "arrows punch  1-9 power  r restart  q quit")
	drawLines(screen, lines...)
}

func describe(d *duel.Direction) string {
	if d == nil {
		return "-"
	}
	return fmt.Sprintf("%s %.0f", d.Kind, d.Strength)
}

func bar(p float64, width int) string {
	n := int(p*float64(width) + 0.5)
	if n < 0 {
		n = 0
	}
	if n > width {
		n = width
	}
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", width-n) + "]"
}

func drawText(screen tcell.Screen, x, y int, style tcell.Style, text string) {
	for i, r := range text {
		screen.SetContent(x+i, y, r, nil, style)
	}
}
