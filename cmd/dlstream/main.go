// Command dlstream runs a closed-loop behavior experiment. It feeds
// tracked poses from a UDP stream (or a recording) through the
// configured experiment preset frame by frame, drives the stimulus
// hardware, records trial events to a session database, and serves
// live monitoring under /debug/.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/clementpouget/DeepLabStream/internal/classifier"
	"github.com/clementpouget/DeepLabStream/internal/config"
	"github.com/clementpouget/DeepLabStream/internal/experiment"
	"github.com/clementpouget/DeepLabStream/internal/monitor"
	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/posestream"
	"github.com/clementpouget/DeepLabStream/internal/sessiondb"
	"github.com/clementpouget/DeepLabStream/internal/stimulus"
	"github.com/clementpouget/DeepLabStream/internal/timeutil"
	"github.com/clementpouget/DeepLabStream/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run with a simulated laser instead of real hardware")
	listen     = flag.String("listen", ":8080", "Listen address")
	configPath = flag.String("config", "", "Experiment config JSON, defaults apply when empty")
	dbFile     = flag.String("db", "sessions.db", "Session database path, empty disables recording")
	serialDev  = flag.String("serial", "/dev/ttyACM0", "Laser serial device")
	poseAddr   = flag.String("pose-listen", ":9999", "UDP address for live pose frames")
	replayFile = flag.String("replay", "", "Replay a pose recording instead of listening")
	pcapFile   = flag.String("pcap", "", "Replay a pcap capture instead of listening")
	pcapPort   = flag.Int("pcap-port", 0, "UDP destination port filter for -pcap, 0 accepts all")
	pace       = flag.Bool("pace", true, "Replay at the recorded frame timing")
	pulseWidth = flag.Duration("pulse", 500*time.Millisecond, "Reward delivery pulse width")
	verbose    = flag.Bool("verbose", false, "Log per-event diagnostics")
	traceLog   = flag.Bool("trace", false, "Log per-frame telemetry")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func configureLogging() {
	var diag, trace io.Writer
	if *verbose {
		diag = os.Stderr
	}
	if *traceLog {
		trace = os.Stderr
	}
	classifier.SetLogWriters(classifier.LogWriters{Ops: os.Stderr, Diag: diag, Trace: trace})
	experiment.SetLogWriters(experiment.LogWriters{Ops: os.Stderr, Diag: diag, Trace: trace})
	stimulus.SetLogWriters(stimulus.LogWriters{Ops: os.Stderr, Diag: diag, Trace: trace})
	sessiondb.SetLogWriters(sessiondb.LogWriters{Ops: os.Stderr, Diag: diag, Trace: trace})
	posestream.SetLogWriters(posestream.LogWriters{Ops: os.Stderr, Diag: diag, Trace: trace})
}

func loadConfig() *config.ExperimentConfig {
	if *configPath == "" {
		return config.EmptyExperimentConfig()
	}
	cfg, err := config.LoadExperimentConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// usesScreen reports whether the preset drives the stimulus screen.
func usesScreen(name string) bool {
	switch name {
	case "example", "multiple-animal", "discrimination":
		return true
	}
	return false
}

// usesLaser reports whether the preset drives the laser.
func usesLaser(name string) bool {
	switch name {
	case "speed", "freeze-tag", "optogen", "team-optogen", "social", "reward-pretraining":
		return true
	}
	return false
}

func buildExperiment(name string, cfg *config.ExperimentConfig, laser stimulus.Muxer, screen *stimulus.ScreenWorker, rec experiment.Recorder, clock timeutil.Clock) (experiment.Experiment, error) {
	switch name {
	case "example":
		return experiment.NewExampleExperiment(stimulus.NewScreenSink(screen), rec, clock)
	case "multiple-animal":
		return experiment.NewMultipleAnimalExperiment(stimulus.NewScreenSink(screen), rec, clock)
	case "discrimination":
		return experiment.NewDiscriminationExperiment(stimulus.NewScreenSink(screen), rec, clock)
	case "speed":
		return experiment.NewSpeedExperiment(stimulus.NewLaserSink(laser), rec, clock)
	case "freeze-tag":
		return experiment.NewFreezeTagExperiment(stimulus.NewLaserSink(laser), rec, clock)
	case "optogen":
		return experiment.NewOptogenExperiment(stimulus.NewLaserSink(laser), rec, clock)
	case "team-optogen":
		return experiment.NewTeamOptogenExperiment(cfg.GetStimulationDeg(), cfg.GetWindowStartDeg(), cfg.GetWindowEndDeg(), stimulus.NewLaserSink(laser), rec, clock)
	case "social":
		return experiment.NewSocialExperiment(stimulus.NewLaserSink(laser), rec, clock)
	case "reward-pretraining":
		protocol, err := stimulus.NewPulseProtocol(laser, *pulseWidth, clock)
		if err != nil {
			return nil, err
		}
		return experiment.NewRewardPretrainingExperiment(protocol, rec, clock, nil)
	}
	return nil, fmt.Errorf("unknown experiment %q", name)
}

// statusCache hands experiment status to the HTTP handlers. The
// controllers are driven by the frame loop alone and take no locks, so
// the monitor reads this snapshot instead of the live controller.
type statusCache struct {
	mu sync.Mutex
	s  experiment.Status
}

func (c *statusCache) set(s experiment.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s = s
}

func (c *statusCache) get() experiment.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// Main
func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("dlstream " + version.String())
		return
	}
	configureLogging()
	log.Printf("dlstream %s", version.String())

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := loadConfig()
	name := cfg.GetExperiment()
	switch {
	case usesScreen(name) || usesLaser(name):
	case name == "classifier-prob" || name == "classifier-class":
		log.Fatalf("experiment %q needs a trained model wired up as a classifier.Scorer; build a binary against the experiment package for it", name)
	default:
		log.Fatalf("unknown experiment %q", name)
	}

	var store *sessiondb.Store
	var recorder experiment.Recorder = experiment.NopRecorder{}
	var sessionID string
	if *dbFile != "" {
		var err error
		store, err = sessiondb.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open session database: %v", err)
		}
		defer store.Close()

		session, err := store.BeginSession(cfg.GetSessionName(), name)
		if err != nil {
			log.Fatalf("Failed to begin session: %v", err)
		}
		sessionID = session.ID
		recorder = sessiondb.NewRecorder(store, session.ID)
		log.Printf("recording session %s (%s)", session.ID, session.Name)
	}
	hub := monitor.NewEventHub(recorder)

	// Create a wait group for the pose source, stimulus, and HTTP
	// server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The run also ends when the pose source is exhausted or the
	// experiment finishes.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clock := timeutil.RealClock{}

	var laser stimulus.Muxer
	if usesLaser(name) {
		if *devMode {
			laser, _ = stimulus.NewMockLaser()
		} else {
			mode, err := stimulus.PortOptions{}.SerialMode()
			if err != nil {
				log.Fatalf("failed to build serial mode: %v", err)
			}
			port, err := serial.Open(*serialDev, mode)
			if err != nil {
				log.Fatalf("failed to open laser port: %v", err)
			}
			laser = stimulus.NewLaserMux(port)
		}
		defer laser.Close()

		if err := laser.Initialize(); err != nil {
			log.Fatalf("failed to initialize laser: %v", err)
		}

		// run the monitor routine to manage IO on the serial port
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := laser.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("laser monitor routine terminated")
		}()
	}

	var screen *stimulus.ScreenWorker
	if usesScreen(name) {
		screen = stimulus.NewScreenWorker(stimulus.LogDisplay{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			screen.Run(ctx)
			log.Print("screen worker terminated")
		}()
	}

	exp, err := buildExperiment(name, cfg, laser, screen, hub, clock)
	if err != nil {
		log.Fatalf("failed to build experiment %q: %v", name, err)
	}

	exp.StartExperiment()

	status := &statusCache{}
	status.set(exp.Status())

	mon, err := monitor.NewServer(monitor.Config{
		Status:    status.get,
		Store:     store,
		Hub:       hub,
		SessionID: sessionID,
	})
	if err != nil {
		log.Fatalf("failed to build monitor: %v", err)
	}

	// handleFrame runs every pose frame through the experiment and
	// publishes the outcome. The pose source calls it from a single
	// goroutine.
	handleFrame := func(f pose.Frame) {
		res := exp.CheckSkeleton(f)
		status.set(exp.Status())
		mon.SetOverlay(f.Seq, res.Response)
		if exp.State() == experiment.Finished {
			cancel()
		}
	}

	var runSource func(context.Context) error
	switch {
	case *replayFile != "":
		runSource = func(ctx context.Context) error {
			return posestream.Replay(ctx, posestream.ReplayConfig{
				Path:    *replayFile,
				Pace:    *pace,
				Handler: handleFrame,
			})
		}
	case *pcapFile != "":
		runSource = func(ctx context.Context) error {
			return posestream.ReplayPcap(ctx, posestream.PcapReplayConfig{
				Path:    *pcapFile,
				Port:    *pcapPort,
				Pace:    *pace,
				Handler: handleFrame,
			})
		}
	default:
		listener, err := posestream.NewListener(posestream.ListenerConfig{
			Address: *poseAddr,
			Handler: handleFrame,
		})
		if err != nil {
			log.Fatalf("failed to listen for pose frames: %v", err)
		}
		defer listener.Close()
		log.Printf("listening for pose frames on %s", listener.LocalAddr())
		runSource = listener.Start
	}

	// feed pose frames to the experiment until the source ends or the
	// run is cancelled
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := runSource(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("pose source error: %v", err)
		}
		log.Print("pose source terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the debugging routes (accessible only over localhost or Tailscale)
		if err := mon.AttachDebugRoutes(mux); err != nil {
			log.Printf("failed to attach monitor routes: %v", err)
		}
		if laser != nil {
			laser.AttachDebugRoutes(mux)
		}

		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "dlstream running experiment %s\nsee /debug/ for live monitoring\n", name)
		})

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %q", r.URL.Path)
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: h,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	// Stop the experiment so the final events land in the session
	// before it is closed out. The laser port is still open here.
	exp.StopExperiment()
	if store != nil {
		if err := store.EndSession(sessionID); err != nil {
			log.Printf("failed to end session: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}
