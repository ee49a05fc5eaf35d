package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	footfall "github.com/banshee-data/footfall.report"
	"github.com/banshee-data/footfall.report/internal/api"
	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/db"
	"github.com/banshee-data/footfall.report/internal/eventmux"
	"github.com/banshee-data/footfall.report/internal/httputil"
	"github.com/banshee-data/footfall.report/internal/pose"
	"github.com/banshee-data/footfall.report/internal/publish"
	"github.com/banshee-data/footfall.report/internal/pump"
	"github.com/banshee-data/footfall.report/internal/timeutil"
	"github.com/banshee-data/footfall.report/internal/trace"
	"github.com/banshee-data/footfall.report/internal/version"
	"github.com/banshee-data/footfall.report/internal/video"
)

var (
	listen      = flag.String("listen", "", "Listen address (default "+config.DefaultListen+")")
	configPath  = flag.String("config", "", "Path to a .json or .yaml config file")
	videoPath   = flag.String("video", "", "Video file, or a capture device index such as 0 (default "+config.DefaultVideo+"; needs a build with -tags opencv)")
	devMode     = flag.Bool("dev", false, "Run in dev mode: synthetic frames, scripted detections, static files from ./static")
	fixture     = flag.String("fixture", "fixtures/walk.txt", "Scripted detections used in dev mode")
	dbPath      = flag.String("db", "", "Path to the sqlite crossing log (disabled when empty)")
	interval    = flag.Duration("interval", 0, "Frame pacing interval (default 33ms)")
	leftLine    = flag.Float64("left", 0, "Left corridor boundary in pixels (default 200)")
	rightLine   = flag.Float64("right", 0, "Right corridor boundary in pixels (default 380)")
	tracePlot   = flag.String("trace-plot", "", "Write a PNG plot of recent nose positions here at shutdown")
	envFiles    = flag.String("env", ".env", "Comma-separated .env files to load; missing files are ignored")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// Synthetic frame size used in dev mode.
const (
	devFrameWidth  = 640
	devFrameHeight = 360
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := config.LoadEnv(splitList(*envFiles)...); err != nil {
		log.Fatalf("failed to load environment: %v", err)
	}
	cfg := &config.CounterConfig{}
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	applyFlags(cfg, setFlags())
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := eventmux.New(eventmux.DefaultBuffer)
	state := counter.NewState(cfg.GetCorridor(), counter.WithListener(events.Publish))
	rec := trace.New(cfg.GetTraceCapacity())

	var store *db.DB
	if path := cfg.GetDatabase(); path != "" {
		var err error
		if store, err = db.Open(path); err != nil {
			log.Fatalf("failed to open crossing log: %v", err)
		}
		defer store.Close()
	}

	open, extractor, err := newSource(ctx, cfg, *devMode, *fixture)
	if err != nil {
		log.Fatalf("failed to set up pose extraction: %v", err)
	}
	defer extractor.Close()

	p, err := pump.New(pump.Config{
		Open:      open,
		Extractor: extractor,
		Counter:   state,
		Interval:  cfg.GetFrameInterval(),
		Observer:  rec.Observe,
	})
	if err != nil {
		log.Fatalf("failed to create frame pump: %v", err)
	}

	var wg sync.WaitGroup

	// forward events to the crossing log and any configured brokers
	for _, f := range forwarders(ctx, cfg, store, sourceName(cfg, *devMode)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events.Forward(ctx, f.name, f.fn)
			if f.close != nil {
				if err := f.close(); err != nil {
					log.Printf("%s: close: %v", f.name, err)
				}
			}
			log.Printf("%s routine terminated", f.name)
		}()
	}

	// run the frame pump; an unopenable source stops only the pump
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil {
			log.Printf("frame pump failed: %v", err)
		}
		log.Print("frame pump routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// read static files from the embedded filesystem in production or from
		// the local ./static in dev for easier iteration without restarting the
		// server
		var static fs.FS = footfall.StaticFiles()
		if *devMode {
			static = os.DirFS("./static")
		}

		opts := api.Options{
			Counts: state,
			Pump:   p,
			Config: cfg.Summary(),
			Events: events,
			Trace:  rec,
			Static: static,
		}
		if store != nil {
			opts.Store = store
		}
		apiServer := api.NewServer(opts)
		mux := apiServer.ServeMux()
		if store != nil {
			store.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           api.LoggingMiddleware(httputil.CORS(mux)),
			ReadHeaderTimeout: 5 * time.Second,
		}

		printBanner(cfg, store != nil, *devMode)

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	events.Close()

	if *tracePlot != "" {
		if err := rec.SavePNG(*tracePlot, state.Corridor()); err != nil {
			log.Printf("failed to write trace plot: %v", err)
		} else {
			log.Printf("trace plot written to %s", *tracePlot)
		}
	}

	snap := state.Snapshot(counter.Strict)
	log.Printf("Final counts - IN: %d, OUT: %d, PRESENT: %d", snap.In, snap.Out, snap.Present())
	if store != nil {
		if in, out, err := store.Totals(context.Background()); err != nil {
			log.Printf("failed to read crossing log totals: %v", err)
		} else {
			log.Printf("Crossing log totals - IN: %d, OUT: %d", in, out)
		}
	}
	log.Printf("Graceful shutdown complete")
}

// setFlags returns the names of flags given on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// applyFlags overrides config file values with explicitly set flags.
func applyFlags(cfg *config.CounterConfig, set map[string]bool) {
	if set["listen"] {
		cfg.Listen = listen
	}
	if set["video"] {
		cfg.Video = videoPath
	}
	if set["db"] {
		cfg.Database = dbPath
	}
	if set["interval"] {
		s := interval.String()
		cfg.FrameInterval = &s
	}
	if set["left"] {
		cfg.LeftLineX = leftLine
	}
	if set["right"] {
		cfg.RightLineX = rightLine
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func sourceName(cfg *config.CounterConfig, dev bool) string {
	if dev {
		return "synthetic"
	}
	return cfg.GetVideo()
}

// newSource returns the video opener and pose extractor. Dev mode pairs
// blank synthetic frames with a detection script so no camera, OpenCV or
// Python is needed.
func newSource(ctx context.Context, cfg *config.CounterConfig, dev bool, fixturePath string) (pump.Opener, pose.Extractor, error) {
	if dev {
		script, err := pose.LoadScript(fixturePath)
		if err != nil {
			return nil, nil, err
		}
		open := func(context.Context) (video.Source, error) {
			return video.NewSynthetic(script.Len(), devFrameWidth, devFrameHeight, timeutil.RealClock{}), nil
		}
		return open, script, nil
	}

	name := cfg.GetVideo()
	open := func(context.Context) (video.Source, error) {
		return video.OpenCapture(name)
	}

	wc := cfg.GetPoseWorker()
	extractor, err := pose.StartWorker(ctx, pose.WorkerConfig{
		Command:        wc.Command,
		Args:           wc.Args,
		Timeout:        cfg.GetWorkerTimeout(),
		MinVisibility:  cfg.GetMinVisibility(),
		RestartBackoff: cfg.GetWorkerRestartBackoff(),
		MaxRestarts:    wc.MaxRestarts,
	})
	if err != nil {
		return nil, nil, err
	}
	return open, extractor, nil
}

type forwarder struct {
	name  string
	fn    func(context.Context, counter.Event) error
	close func() error
}

// forwarders builds one event consumer per configured sink. Broker
// connection failures are logged and that sink is skipped.
func forwarders(ctx context.Context, cfg *config.CounterConfig, store *db.DB, source string) []forwarder {
	var out []forwarder

	if store != nil {
		session, err := store.StartSession(ctx, db.Session{
			Source:   source,
			Corridor: cfg.GetCorridor(),
			Version:  version.Version,
		})
		if err != nil {
			log.Printf("failed to start crossing log session: %v", err)
		}
		out = append(out, forwarder{
			name: "crossing log",
			fn: func(ctx context.Context, ev counter.Event) error {
				return store.RecordEvent(ctx, session, ev)
			},
		})
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker != "" {
		pub, err := publish.NewMQTTPublisher(ctx, *cfg.MQTT, cfg.GetMQTTTopic())
		if err != nil {
			log.Printf("mqtt publisher disabled: %v", err)
		} else {
			out = append(out, publisherForwarder("mqtt", pub))
		}
	}

	if cfg.Kafka != nil && cfg.Kafka.BootstrapServers != "" {
		pub, err := publish.NewKafkaPublisher(*cfg.Kafka, cfg.GetKafkaTopic())
		if err != nil {
			log.Printf("kafka publisher disabled: %v", err)
		} else {
			out = append(out, publisherForwarder("kafka", pub))
		}
	}
	return out
}

func publisherForwarder(name string, pub publish.Publisher) forwarder {
	return forwarder{name: name, fn: pub.Publish, close: pub.Close}
}

// captureWarning explains why a build without OpenCV will never count
// outside dev mode.
func captureWarning(dev bool) string {
	if dev || video.CaptureAvailable {
		return ""
	}
	return "video capture is not built in; rebuild with -tags opencv or run with -dev"
}

func printBanner(cfg *config.CounterConfig, withDB, dev bool) {
	addr := cfg.GetListen()
	corridor := cfg.GetCorridor()
	log.Printf("%s", version.String())
	if warning := captureWarning(dev); warning != "" {
		log.Printf("WARNING: %s", warning)
	}
	log.Printf("Corridor: left=%s right=%s, frame interval %s",
		strconv.FormatFloat(corridor.Left, 'f', -1, 64),
		strconv.FormatFloat(corridor.Right, 'f', -1, 64),
		cfg.GetFrameInterval())
	log.Printf("Dashboard:  http://%s/", addr)
	log.Printf("Counts:     http://%s/api/counts", addr)
	log.Printf("Reset:      POST http://%s/api/reset", addr)
	log.Printf("Status:     http://%s/api/status", addr)
	log.Printf("Events:     http://%s/api/events", addr)
	if withDB {
		log.Printf("Crossings:  http://%s/api/crossings", addr)
	}
	log.Printf("Debug:      http://%s/debug/", addr)
}
