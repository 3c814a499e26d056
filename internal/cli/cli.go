//go:build linux

// File: internal/cli/cli.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// fiberctl command tree:
//
//	fiberctl                     root
//	├── sleep                    run concurrent hooked sleeps, report wall time
//	├── echo                     hooked TCP echo server until SIGINT/SIGTERM
//	├── config                   print every registered tunable
//	├── --config, -c             YAML file applied to the tunable registry
//	├── --log-level              trace|debug|info|notice|warning|error|crit|off
//	└── --metrics-addr           serve Prometheus metrics on this address

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/internal/logging"
	"github.com/momentics/hioload-fiber/iomanager"
)

var (
	threadsDefault = runtime.NumCPU()
	threadsVar     = control.Lookup(control.Default(), "scheduler.threads", threadsDefault, "worker threads of fiberctl io managers")
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configFile  string
	logLevel    string
	metricsAddr string
	threads     int

	log      *logging.Logger
	registry *prometheus.Registry
	metrics  *control.Metrics
	probes   *control.DebugProbes
	server   *http.Server
}

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "fiberctl",
		Short:         "Drive the hioload-fiber runtime from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.setup(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return o.teardown()
		},
	}
	root.PersistentFlags().StringVarP(&o.configFile, "config", "c", "", "YAML file with tunables")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "info", "log level")
	root.PersistentFlags().StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	root.PersistentFlags().IntVarP(&o.threads, "threads", "t", 0, "worker threads (0 uses scheduler.threads)")

	root.AddCommand(buildSleepCommand(o))
	root.AddCommand(buildEchoCommand(o))
	root.AddCommand(buildConfigCommand(o))
	return root
}

func (o *options) setup(stderr io.Writer) error {
	level, ok := logging.ParseLevel(o.logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", o.logLevel)
	}
	o.log = logging.New(stderr, level)
	logging.SetDefault(o.log)

	if o.configFile != "" {
		if err := control.Default().LoadFile(o.configFile); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		o.log.Info().Str("file", o.configFile).Log("configuration loaded")
	}

	o.registry = prometheus.NewRegistry()
	o.metrics = control.NewMetrics(o.registry, "fiber")
	o.probes = control.NewDebugProbes()
	control.RegisterPlatformProbes(o.probes)

	if o.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{}))
		mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
			_, _ = o.probes.WriteTo(w)
		})
		o.server = &http.Server{Addr: o.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := o.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				o.log.Err().Err(err).Str("addr", o.metricsAddr).Log("metrics server failed")
			}
		}()
		o.log.Info().Str("addr", o.metricsAddr).Log("metrics server listening")
	}
	return nil
}

func (o *options) teardown() error {
	if o.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.server.Shutdown(ctx)
}

func (o *options) threadCount() int {
	if o.threads > 0 {
		return o.threads
	}
	if n := threadsVar.Get(); n > 0 {
		return n
	}
	return 1
}

func (o *options) newIOManager(name string) (*iomanager.IOManager, error) {
	opts := []iomanager.Option{
		iomanager.WithName(name),
		iomanager.WithLogger(o.log),
		iomanager.WithMetrics(o.metrics),
	}
	if o.probes != nil {
		opts = append(opts, iomanager.WithProbes(o.probes))
	}
	return iomanager.New(o.threadCount(), false, opts...)
}

func buildConfigCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config [name...]",
		Short: "Print registered tunables with their current values",
		Long:  "Without arguments every tunable is listed; with names only their values are printed, one per line.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg := control.Default()
			for _, name := range args {
				v, ok := cfg.Find(name)
				if !ok {
					return fmt.Errorf("unknown tunable %q", name)
				}
				if _, err := fmt.Fprintf(out, "%v\n", v); err != nil {
					return err
				}
			}
			if len(args) != 0 {
				return nil
			}
			var err error
			cfg.Visit(func(name, desc string, value any) {
				if err == nil {
					_, err = fmt.Fprintf(out, "%s = %v\t# %s\n", name, value, desc)
				}
			})
			return err
		},
	}
}
