package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	cowbackup "github.com/behrlich/go-cowbackup"
	"github.com/behrlich/go-cowbackup/internal/config"
	"github.com/behrlich/go-cowbackup/internal/device/file"
	"github.com/behrlich/go-cowbackup/internal/device/mem"
	"github.com/behrlich/go-cowbackup/internal/logging"
)

// byteSizeFlag adapts datasize.ByteSize to pflag.Value so --size/--speed
// accept human-readable values ("64MiB", "10MB") the way the config file's
// datasize.ByteSize fields do (§10), instead of a hand-rolled
// parseSize.
type byteSizeFlag struct {
	datasize.ByteSize
}

func (b *byteSizeFlag) String() string     { return b.ByteSize.String() }
func (b *byteSizeFlag) Set(s string) error { return b.ByteSize.UnmarshalText([]byte(s)) }
func (b *byteSizeFlag) Type() string       { return "size" }

var _ pflag.Value = (*byteSizeFlag)(nil)

var startFlags struct {
	configPath    string
	source        string
	target        string
	size          byteSizeFlag
	speed         byteSizeFlag
	onSourceError string
	onTargetError string
	statusAddr    string
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run a backup job until completion or interruption",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd.Context())
	},
}

func init() {
	flags := startCmd.Flags()
	flags.StringVarP(&startFlags.configPath, "config", "c", "", "path to a YAML job config; overrides the flags below")
	flags.StringVar(&startFlags.source, "source", "", `source device URI ("mem:<size>")`)
	flags.StringVar(&startFlags.target, "target", "", "target device URI (mem:<size> or a file path)")
	flags.Var(&startFlags.size, "size", "target size when it must be created (e.g. 64MiB)")
	flags.Var(&startFlags.speed, "speed", "sweep rate limit, 0 for unlimited (e.g. 10MB)")
	flags.StringVar(&startFlags.onSourceError, "on-source-error", "report", "report, ignore, stop, or enospc")
	flags.StringVar(&startFlags.onTargetError, "on-target-error", "report", "report, ignore, stop, or enospc")
	flags.StringVar(&startFlags.statusAddr, "status-addr", "", "if set, serve live progress as JSON on this address for `cowbackup status` to poll")
}

func resolveConfig() (*config.Config, error) {
	if startFlags.configPath != "" {
		return config.Load(startFlags.configPath)
	}
	cfg := config.DefaultConfig()
	cfg.Source = startFlags.source
	cfg.Target = startFlags.target
	if startFlags.size.Bytes() > 0 {
		cfg.Size = startFlags.size.ByteSize
	}
	cfg.Speed = startFlags.speed.ByteSize
	cfg.OnSourceError = startFlags.onSourceError
	cfg.OnTargetError = startFlags.onTargetError
	return cfg, nil
}

// openSource opens a "mem:<size>" URI as a source. Only an in-memory
// device can serve as the source today: the guest-write interception point
// (§4.E) requires NotifyingDevice, which internal/device/file does not
// implement — a real deployment's source is the live guest-facing device,
// outside this repo's scope.
func openSource(uri string) (cowbackup.NotifyingDevice, error) {
	size, ok := parseMemURI(uri)
	if !ok {
		return nil, fmt.Errorf(`unsupported source %q: only "mem:<size>" sources are supported`, uri)
	}
	return mem.New(size), nil
}

// openTarget opens uri as a target: "mem:<size>" for an in-memory device, or
// a filesystem path, created at defaultSize if it does not already exist.
func openTarget(uri string, defaultSize int64) (cowbackup.Device, error) {
	if size, ok := parseMemURI(uri); ok {
		return mem.New(size), nil
	}
	if _, err := os.Stat(uri); err == nil {
		return file.Open(uri)
	}
	return file.Create(uri, defaultSize)
}

func parseMemURI(uri string) (int64, bool) {
	rest, ok := strings.CutPrefix(uri, "mem:")
	if !ok {
		return 0, false
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(rest)); err != nil {
		return 0, false
	}
	return int64(size.Bytes()), true
}

func runStart(ctx context.Context) error {
	cfg, err := resolveConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := cfg.Log
	if logCfg.Output == nil {
		logCfg.Output = os.Stderr
	}
	logCfg.Level = parseLogLevel(logLevel)
	logger := logging.NewLogger(&logCfg)
	logging.SetDefault(logger)

	jobCfg, err := cfg.ToJobConfig()
	if err != nil {
		return fmt.Errorf("resolve job config: %w", err)
	}

	source, err := openSource(cfg.Source)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := openTarget(cfg.Target, int64(cfg.Size.Bytes()))
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}

	metrics := cowbackup.NewMetrics()
	observer := cowbackup.NewMetricsObserver(metrics)

	// signalCtx governs only the interrupt-wait goroutine below; it is
	// cancelled once the job's own completion fires, so that goroutine
	// never outlives the job it exists to interrupt.
	signalCtx, cancelSignalWait := context.WithCancel(ctx)
	defer cancelSignalWait()

	var wg errgroup.Group

	done := make(chan struct{})
	var jobResult cowbackup.Result
	var jobErr error

	job, err := cowbackup.Start(ctx, source, target, jobCfg, func(result cowbackup.Result, err error) {
		jobResult = result
		jobErr = err
		close(done)
	}, cowbackup.WithObserver(observer), cowbackup.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}

	var server *http.Server
	if startFlags.statusAddr != "" {
		server = newStatusServer(startFlags.statusAddr, job, metrics)
		wg.Go(func() error {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	wg.Go(func() error {
		if err := waitInterrupted(signalCtx); err == nil {
			logger.Info("received shutdown signal, cancelling job")
			job.Cancel()
		}
		return nil
	})

	<-done
	metrics.Stop()
	cancelSignalWait()
	if server != nil {
		_ = server.Close()
	}
	if err := wg.Wait(); err != nil {
		logger.Warn("background task reported an error", "error", err)
	}

	offset, length := job.Progress()
	logger.Info("job completed", "result", jobResult.String(), "offset", offset, "length", length)

	if jobErr != nil && jobResult != cowbackup.ResultCancelled {
		return jobErr
	}
	return nil
}

type statusResponse struct {
	Result   string                    `json:"result"`
	Offset   int64                     `json:"offset"`
	Length   int64                     `json:"length"`
	Snapshot cowbackup.MetricsSnapshot `json:"metrics"`
}

func newStatusServer(addr string, job *cowbackup.Job, metrics *cowbackup.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		offset, length := job.Progress()
		result, _ := job.Result()
		resp := statusResponse{
			Result:   result.String(),
			Offset:   offset,
			Length:   length,
			Snapshot: metrics.Snapshot(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

// waitInterrupted blocks until SIGINT/SIGTERM or ctx is cancelled, the same
// shutdown-signal pattern yanet2's coordinator command uses
// (coordinator/cmd/coordinator/main.go WaitInterrupted).
func waitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
