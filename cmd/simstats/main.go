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
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/simstats/internal/archive"
	"github.com/banshee-data/simstats/internal/broker"
	"github.com/banshee-data/simstats/internal/config"
	"github.com/banshee-data/simstats/internal/ingest"
	"github.com/banshee-data/simstats/internal/monitoring"
	"github.com/banshee-data/simstats/internal/pipeline"
	"github.com/banshee-data/simstats/internal/sink"
	"github.com/banshee-data/simstats/internal/storage/postgres"
	"github.com/banshee-data/simstats/internal/storage/sqlite"
	"github.com/banshee-data/simstats/internal/visualiser"
	"github.com/banshee-data/simstats/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "Debug HTTP listen address (empty to disable)")
	mapPath    = flag.String("map", "", "Road network XML description (required)")
	configPath = flag.String("config", "", "Tuning config JSON (defaults built in)")
	sims       = flag.String("sims", "", "Comma-separated simulation ids (empty to discover from topics)")
	debug      = flag.Bool("debug", false, "Enable debug logging")

	udpAddr   = flag.String("udp", "", "UDP listen address for JSON datagrams, e.g. :9400")
	udpRcvBuf = flag.Int("udp-rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	input     = flag.String("input", "", "Newline-delimited JSON file to replay ('-' for stdin)")
	serialDev = flag.String("serial", "", "Serial port carrying newline-delimited JSON")
	baud      = flag.Int("baud", 115200, "Serial baud rate")
	pcapFile  = flag.String("pcap", "", "PCAP capture to replay (requires -tags=pcap)")
	pcapPort  = flag.Int("pcap-port", 9400, "UDP port to extract from the PCAP capture")

	jsonlOut   = flag.String("jsonl", "", "Write completed steps as JSON lines to this file")
	sqlitePath = flag.String("sqlite", "", "Persist steps to this SQLite database")
	pgURL      = flag.String("postgres", os.Getenv("DATABASE_URL"), "PostgreSQL URL for step statistics")
	bucket     = flag.String("archive-bucket", os.Getenv("S3_BUCKET"), "S3 bucket for Parquet archives")
	visAddr    = flag.String("visualiser", "", "gRPC listen address for the live step stream")
)

func main() {
	flag.Parse()

	if *mapPath == "" {
		log.Fatal("-map is required")
	}
	if *debug {
		monitoring.SetDebugLogger(os.Stderr)
	}
	log.Printf("simstats %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("simstats: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func loadTuning() (*config.TuningConfig, error) {
	if *configPath == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(*configPath)
}

func splitSims(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// outputs collects the configured sinks and the work each needs at
// shutdown.
type outputs struct {
	multi   *sink.Multi
	store   *sqlite.Store
	closers []func(context.Context) error
	vis     *visualiser.Publisher
}

func openOutputs(ctx context.Context) (*outputs, error) {
	o := &outputs{multi: sink.NewMulti()}

	if *jsonlOut != "" {
		j, err := sink.CreateJSONLines(*jsonlOut)
		if err != nil {
			return o, err
		}
		o.multi.Add("jsonl", j)
		o.closers = append(o.closers, func(context.Context) error { return j.Close() })
	}

	if *sqlitePath != "" {
		s, err := sqlite.Open(*sqlitePath)
		if err != nil {
			return o, fmt.Errorf("open sqlite: %w", err)
		}
		o.store = s
		o.multi.Add("sqlite", s)
		o.closers = append(o.closers, func(context.Context) error { return s.Close() })
	}

	if *pgURL != "" {
		pool, err := postgres.NewPool(ctx, *pgURL)
		if err != nil {
			return o, err
		}
		pg := postgres.New(pool, postgres.DefaultBatchSize)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return o, err
		}
		o.multi.Add("postgres", pg)
		o.closers = append(o.closers, func(ctx context.Context) error {
			defer pool.Close()
			return pg.Flush(ctx)
		})
	}

	if *bucket != "" {
		client, err := archive.NewS3Client(archive.S3Config{
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			Region:          os.Getenv("S3_REGION"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Bucket:          *bucket,
		})
		if err != nil {
			return o, err
		}
		a := archive.New(client, *bucket, "", uuid.New().String())
		o.multi.Add("archive", a)
		o.closers = append(o.closers, a.Flush)
	}

	if *visAddr != "" {
		cfg := visualiser.DefaultConfig()
		cfg.ListenAddr = *visAddr
		p := visualiser.NewPublisher(cfg)
		if err := p.Start(); err != nil {
			return o, err
		}
		o.vis = p
		o.multi.Add("visualiser", p)
	}

	if o.multi.Len() == 0 {
		log.Printf("no sinks configured, steps are computed and discarded")
	} else {
		log.Printf("sinks: %s", strings.Join(o.multi.Names(), ", "))
	}
	return o, nil
}

func (o *outputs) close() error {
	if o.vis != nil {
		o.vis.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func run(ctx context.Context) error {
	tuning, err := loadTuning()
	if err != nil {
		return err
	}

	out, err := openOutputs(ctx)
	defer func() {
		if cerr := out.close(); cerr != nil {
			log.Printf("closing sinks: %v", cerr)
		}
	}()
	if err != nil {
		return err
	}

	b := broker.New()
	router := ingest.NewRouter(b)

	mcfg := pipeline.ManagerConfig{
		SimIDs:  splitSims(*sims),
		MapPath: *mapPath,
		Tuning:  tuning,
		Sink:    out.multi,
	}
	if out.store != nil {
		mcfg.Runs = out.store
	}
	manager := pipeline.NewManager(mcfg, b)
	if err := manager.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	live := *udpAddr != "" || *serialDev != ""
	drained := make(chan struct{})

	if *udpAddr != "" {
		l := ingest.NewUDPListener(ingest.UDPListenerConfig{Address: *udpAddr, RcvBuf: *udpRcvBuf}, router)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("UDP listener: %v", err)
			}
		}()
	}

	if *serialDev != "" {
		port, err := ingest.OpenSerial(*serialDev, ingest.PortOptions{BaudRate: *baud})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer port.Close()
			if err := ingest.LineFeed(ctx, port, router); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("serial feed: %v", err)
			}
		}()
	}

	// Finite sources close the broker when done unless a live transport is
	// also running, so workers drain and the process exits.
	if *input != "" || *pcapFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := replay(ctx, router); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("replay: %v", err)
			}
			if !live {
				log.Printf("replay finished, draining workers")
				b.Close()
				close(drained)
			}
		}()
	}

	var srv *http.Server
	if *listen != "" {
		mux := http.NewServeMux()
		monitoring.AttachMetricsRoute(mux)
		b.AttachAdminRoutes(mux)
		manager.AttachAdminRoutes(mux)
		if out.store != nil {
			out.store.AttachAdminRoutes(mux)
		}
		srv = &http.Server{Addr: *listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("failed to start server: %v", err)
			}
		}()
	}

	// Discovering managers have no fixed worker set to wait for.
	if len(mcfg.SimIDs) == 0 {
		select {
		case <-manager.Done():
		case <-drained:
		}
	}
	werr := manager.Wait()
	stopErr := manager.Stop()
	b.Close()
	wg.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			srv.Close()
		}
	}
	log.Printf("routed %d records, rejected %d", router.Routed(), router.Rejected())
	return errors.Join(werr, stopErr)
}

func replay(ctx context.Context, router *ingest.Router) error {
	if *pcapFile != "" {
		if err := ingest.ReplayPCAP(ctx, *pcapFile, *pcapPort, router); err != nil {
			return err
		}
	}
	if *input == "" {
		return nil
	}
	var r io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	return ingest.LineFeed(ctx, r, router)
}
