package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/srediag/shmcopy/adapter"
	"github.com/srediag/shmcopy/internal/config"
	"github.com/srediag/shmcopy/internal/logger"
	"github.com/srediag/shmcopy/pkg/health"
	"github.com/srediag/shmcopy/pkg/lifecycle"
	"github.com/srediag/shmcopy/pkg/shm"
	"github.com/srediag/shmcopy/pkg/transport"
)

// Process exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitBadOptions  = 2
	exitPeerTimeout = 3
	exitTerminated  = 4
)

// optionError is a command line that cannot be acted on.
type optionError struct {
	err error
}

func (e *optionError) Error() string { return e.err.Error() }
func (e *optionError) Unwrap() error { return e.err }

func optionErrorf(format string, a ...any) error {
	return &optionError{err: fmt.Errorf(format, a...)}
}

type flags struct {
	source      string
	destination string
	segment     string
	loopback    bool
	cleanup     bool
	envFile     string
	logLevel    string
}

func newRootCmd(ctx context.Context, stdout, stderr io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "shmcopy --source <path> --destination <path> --shared_memory <name>",
		Short: "Copy a file between two processes through shared memory",
		Long: `shmcopy copies a file between two cooperating processes through a named
shared memory segment. Run it twice with the same --shared_memory name: the
first process becomes the Reader and streams --source into the segment, the
second becomes the Writer and writes --destination. Further processes that
attach to the same name exit without doing anything.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return optionErrorf("unexpected arguments: %v", args)
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCopy(ctx, f, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &optionError{err: err}
	})

	fl := cmd.Flags()
	fl.StringVar(&f.source, "source", "", "path of the file to read")
	fl.StringVar(&f.destination, "destination", "", "path of the file to write")
	fl.StringVar(&f.segment, "shared_memory", "", "name of the shared memory segment")
	fl.BoolVar(&f.loopback, "loopback", false, "run the Reader and the Writer in this process")
	fl.BoolVar(&f.cleanup, "cleanup", false, "remove a stale segment named by --shared_memory and exit")
	fl.StringVar(&f.envFile, "env-file", "", "load SHMCOPY_* settings from this file")
	fl.StringVar(&f.logLevel, "log-level", "", "override SHMCOPY_LOG_LEVEL (debug, info, warn, error)")
	return cmd
}

func (f flags) validate() error {
	if f.segment == "" {
		return optionErrorf("--shared_memory is required")
	}
	if f.cleanup {
		return nil
	}
	if f.source == "" {
		return optionErrorf("--source is required")
	}
	if f.destination == "" {
		return optionErrorf("--destination is required")
	}
	return nil
}

func runCopy(ctx context.Context, f flags, stdout, stderr io.Writer) error {
	if err := f.validate(); err != nil {
		return err
	}
	var envFiles []string
	if f.envFile != "" {
		envFiles = append(envFiles, f.envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return &optionError{err: err}
	}
	level := cfg.Logging.Level
	if f.logLevel != "" {
		level = f.logLevel
	}
	if err := logger.SetLevel(level); err != nil {
		return &optionError{err: err}
	}
	logger.SetDevelopment(cfg.Logging.Development)
	log := logger.New("shmcopy", stderr)
	defer func() { _ = log.Sync() }()

	if f.cleanup {
		if !shm.Exists(cfg.Segment.Dir, f.segment) {
			log.Infof("no segment named %s in %s", f.segment, cfg.Segment.Dir)
			return nil
		}
		if err := shm.Remove(cfg.Segment.Dir, f.segment); err != nil {
			return err
		}
		log.Infof("removed segment %s", f.segment)
		return nil
	}

	telemetry, err := adapter.NewTelemetry(otel.GetTracerProvider(), otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sessions := health.NewRegistry(cfg.Segment.PeerTimeout)
	opts := lifecycle.Options{
		Segment:       f.segment,
		Dir:           cfg.Segment.Dir,
		PeerTimeout:   cfg.Segment.PeerTimeout,
		PollInterval:  cfg.Segment.PollInterval,
		AttachTimeout: cfg.Segment.AttachTimeout,
		Logger:        log,
		Metrics:       transport.NewMetrics(promReg),
		Telemetry:     telemetry,
		Health:        sessions,
	}

	if cfg.Admin.Addr != "" {
		probes := adapter.NewHealthHandler(sessions, cfg.Segment.Dir, promReg)
		admin := adapter.NewAdminServer(cfg.Admin.Addr, promReg, probes, sessions, log.Named("admin"))
		if err := admin.Start(); err != nil {
			return fmt.Errorf("admin listener: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = admin.Shutdown(sctx)
		}()
	}

	if f.loopback {
		reader, writer, err := lifecycle.RunLoopback(ctx, opts, f.source, f.destination)
		fmt.Fprint(stdout, reader.String())
		fmt.Fprint(stdout, writer.String())
		return err
	}

	rep, err := lifecycle.Run(ctx, opts, f.source, f.destination)
	if errors.Is(err, transport.ErrPeerTimeout) {
		fmt.Fprintln(stdout, "Reader timed out waiting for the writer to start. Nothing to do.")
		return err
	}
	if rep.Role == shm.RoleReader || rep.Role == shm.RoleWriter {
		fmt.Fprint(stdout, rep.String())
	}
	return err
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var oe *optionError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &oe):
		return exitBadOptions
	case errors.Is(err, transport.ErrPeerTimeout):
		return exitPeerTimeout
	case errors.Is(err, lifecycle.ErrTerminated):
		return exitTerminated
	default:
		return exitFailure
	}
}

// run executes the command line and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(ctx, stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	code := exitCode(err)
	switch code {
	case exitOK:
	case exitBadOptions:
		fmt.Fprintf(stderr, "Error: %v\n\n%s", err, cmd.UsageString())
	case exitPeerTimeout:
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return code
}
