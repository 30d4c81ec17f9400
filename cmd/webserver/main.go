// Command webserver starts the reactor HTTP server. Every flag except
// --resources-dir and --redis-addr mirrors one of
// original_source/src/main.cpp's hardcoded constructor arguments; the
// defaults reproduce that call exactly, so running with no flags at all
// matches the original binary's behavior.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reactorhttpd/reactorhttpd/internal/credstore"
	"github.com/reactorhttpd/reactorhttpd/internal/logsink"
	"github.com/reactorhttpd/reactorhttpd/internal/reactor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port             int
		triggerMode      int
		idleTimeoutMS    int
		linger           bool
		workers          int
		enableLog        bool
		logLevel         int
		logQueueCapacity int
		resourcesDir     string
		redisAddr        string
	)

	cmd := &cobra.Command{
		Use:   "webserver",
		Short: "Event-driven static-file HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if triggerMode < 0 || triggerMode > 3 {
				return fmt.Errorf("--trigger-mode must be 0-3, got %d", triggerMode)
			}

			var store credstore.Store
			if redisAddr != "" {
				rs := credstore.NewRedisStore(redisAddr, 0)
				defer rs.Close()
				store = rs
			}

			srv, err := reactor.New(reactor.Config{
				Port:             port,
				TriggerMode:      reactor.TriggerMode(triggerMode),
				IdleTimeout:      time.Duration(idleTimeoutMS) * time.Millisecond,
				Linger:           linger,
				WorkerThreads:    workers,
				EnableLog:        enableLog,
				LogLevel:         logsink.Level(logLevel),
				LogQueueCapacity: logQueueCapacity,
				ResourcesDir:     resourcesDir,
				CredStore:        store,
			})
			if err != nil {
				return fmt.Errorf("starting server: %w", err)
			}

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigc
				srv.Close()
			}()

			return srv.Run()
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&port, "port", 12345, "listen port (1025-65535)")
	flags.IntVar(&triggerMode, "trigger-mode", 3, "0=NoET 1=ConnET 2=ListenET 3=BothET")
	flags.IntVar(&idleTimeoutMS, "idle-timeout", 60000, "idle connection timeout in milliseconds")
	flags.BoolVar(&linger, "linger", false, "enable SO_LINGER on accepted sockets")
	flags.IntVar(&workers, "workers", 6, "worker pool thread count")
	flags.BoolVar(&enableLog, "log", true, "enable the async log sink")
	flags.IntVar(&logLevel, "log-level", 1, "0=debug 1=info 2=warn 3=error")
	flags.IntVar(&logQueueCapacity, "log-queue-capacity", 1024, "0 disables async logging")
	flags.StringVar(&resourcesDir, "resources-dir", "", "static asset root (defaults to ./resources/)")
	flags.StringVar(&redisAddr, "redis-addr", "", "optional Redis address backing the credential store")

	return cmd
}
