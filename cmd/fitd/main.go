package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/fitgate/internal/common"
	"example.com/fitgate/internal/config"
	"example.com/fitgate/internal/profile"
	"example.com/fitgate/internal/report"
	"example.com/fitgate/internal/server"
	"example.com/fitgate/internal/store"
	"example.com/fitgate/internal/watch"
)

type daemon struct {
	cfg     config.Daemon
	store   *store.Bolt
	handler http.Handler
	inbox   *watch.Inbox
	metrics *common.Metrics
	log     *logrus.Entry
}

// newDaemon opens the store and builds the HTTP handler and the optional
// inbox watcher described by cfg.
func newDaemon(cfg config.Daemon, logger logrus.FieldLogger) (*daemon, error) {
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	catalog, err := profile.LoadVendor(profile.Standard(), cfg.VendorFile)
	if err != nil {
		return nil, fmt.Errorf("load vendor profile: %w", err)
	}
	lang, err := report.ParseLanguage(cfg.Lang)
	if err != nil {
		return nil, err
	}
	d := &daemon{cfg: cfg, metrics: common.NewMetrics(), log: logger.WithField("component", "fitd")}
	d.metrics.Start()
	d.store, err = store.Open(filepath.Join(cfg.StorageDir, "fitgate.db"), store.Options{
		Catalog: catalog,
		Policy:  policy,
		Logger:  logger.WithField("component", "store"),
		EditLog: common.NewEditLog(cfg.EditLog),
		Metrics: d.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	srv, err := server.NewServer(server.Options{
		Store:     d.store,
		MaxUpload: cfg.MaxUpload,
		Lang:      lang,
		Logger:    logger.WithField("component", "server"),
	})
	if err != nil {
		d.store.Close()
		return nil, fmt.Errorf("server init: %w", err)
	}
	d.handler, err = server.NewRouter(srv)
	if err != nil {
		d.store.Close()
		return nil, fmt.Errorf("router init: %w", err)
	}
	if cfg.Inbox.Directory != "" {
		d.inbox, err = watch.New(d.store, watch.Options{
			Dir:       cfg.Inbox.Directory,
			Processed: cfg.Inbox.Processed,
			Rejected:  cfg.Inbox.Rejected,
			Logger:    logger.WithField("component", "inbox"),
		})
		if err != nil {
			d.store.Close()
			return nil, fmt.Errorf("inbox init: %w", err)
		}
	}
	return d, nil
}

func (d *daemon) Close() error {
	d.metrics.Stop()
	d.log.Infof("session totals: %s", d.metrics.Snapshot())
	return d.store.Close()
}

// serve runs the HTTP server and inbox watcher until ctx is cancelled or
// either of them fails.
func (d *daemon) serve(ctx context.Context, httpServer *http.Server) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	errc := make(chan error, 2)
	inboxDone := make(chan struct{})
	if d.inbox != nil {
		go func() {
			defer close(inboxDone)
			if err := d.inbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errc <- fmt.Errorf("inbox: %w", err)
			}
		}()
	} else {
		close(inboxDone)
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("listen: %w", err)
		}
	}()
	d.log.Infof("fitd listening on %s", httpServer.Addr)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		d.log.WithError(err).Warn("shutdown")
	}
	<-inboxDone
	return runErr
}

// closeAll closes each closer in order and folds their errors into err.
func closeAll(err error, closers ...io.Closer) error {
	var merr *multierror.Error
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	for _, c := range closers {
		if cerr := c.Close(); cerr != nil {
			merr = multierror.Append(merr, cerr)
		}
	}
	return merr.ErrorOrNil()
}

func newRootCmd() *cobra.Command {
	var (
		configPath   string
		addr         string
		readTimeout  time.Duration
		writeTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:           "fitd",
		Short:         "Serve the activity store over HTTP and import files from an inbox.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDaemon(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
				return fmt.Errorf("create log dir: %w", err)
			}
			rotator, err := common.SetupRotation(common.RotateOptions{
				Filename:   filepath.Join(cfg.Logs.Directory, "fitd.log"),
				MaxSizeMB:  cfg.Logs.MaxSizeMB,
				MaxAgeDays: cfg.Logs.MaxAgeDays,
				MaxBackups: cfg.Logs.MaxBackups,
				Compress:   cfg.Logs.Compress,
				Level:      cfg.Logs.Level,
				JSON:       cfg.Logs.JSON,
			})
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}

			d, err := newDaemon(cfg, common.Logger())
			if err != nil {
				return closeAll(err, rotator)
			}

			listenAddr := fmt.Sprintf(":%d", cfg.Port)
			if addr != "" {
				listenAddr = addr
			}
			httpServer := &http.Server{
				Addr:         listenAddr,
				Handler:      d.handler,
				ReadTimeout:  readTimeout,
				WriteTimeout: writeTimeout,
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err = d.serve(ctx, httpServer)
			d.log.Info("fitd stopped")
			return closeAll(err, d, rotator)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", filepath.Join("config", "fitd.yaml"), "path to configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config port)")
	cmd.Flags().DurationVar(&readTimeout, "read-timeout", 60*time.Second, "HTTP read timeout")
	cmd.Flags().DurationVar(&writeTimeout, "write-timeout", 60*time.Second, "HTTP write timeout")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		common.Fatalf("fitd: %v", err)
	}
}
