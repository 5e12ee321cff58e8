package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kurvproject/kurv/internal/dir"
	"github.com/kurvproject/kurv/pkg/constant"
	"github.com/kurvproject/kurv/pkg/httpapi"
	"github.com/kurvproject/kurv/pkg/info"
	"github.com/kurvproject/kurv/pkg/plugin"
	"github.com/kurvproject/kurv/pkg/reconcile"
	"github.com/kurvproject/kurv/pkg/state"
)

func newServerCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the supervisor's control plane and reconciliation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force && os.Getenv("KURV_SERVER") != "true" {
				return fmt.Errorf("refusing to start: set KURV_SERVER=true or pass --force")
			}
			return runServer()
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "start the server even without KURV_SERVER=true")
	return cmd
}

// runServer runs the server until it receives SIGINT/SIGTERM.
func runServer() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.WithField("component", "kurv").Info("received shutdown signal")
		cancel()
	}()

	return runServerCtx(ctx)
}

// runServerCtx runs the server until ctx is cancelled, by whatever
// means the caller chooses (a signal, as runServer does, or a service
// manager's Stop callback, as kurvService does).
func runServerCtx(ctx context.Context) error {
	log := logrus.WithField("component", "kurv")

	apiHost := envOr("KURV_API_HOST", constant.DefaultAPIHost)
	apiPort := envOr("KURV_API_PORT", constant.DefaultAPIPort)

	inf, err := info.New(apiHost, apiPort)
	if err != nil {
		return fmt.Errorf("failed to build info snapshot: %w", err)
	}

	if err := dir.Init(inf.Paths.KurvHome, constant.RunDirMode); err != nil {
		return fmt.Errorf("failed to prepare kurv home %s: %w", inf.Paths.KurvHome, err)
	}

	store, err := state.Load(inf.Paths.KurvFile)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	discovered, discoverErr := plugin.Discover(inf.Paths.PluginsDir, plugin.HostEnv{
		APIHost: apiHost,
		APIPort: apiPort,
		Home:    inf.Paths.KurvHome,
		LogsDir: inf.Paths.LogsDir,
	})
	if discoverErr != nil {
		log.Warnf("plugin discovery had failures: %v", discoverErr)
	}
	for _, e := range discovered {
		store.Collect(e)
	}
	log.Infof("discovered %d plugin(s)", len(discovered))

	router := httpapi.NewRouter(&httpapi.Context{Store: store, Info: inf, Log: log})
	supervisor := reconcile.New(store, inf.Paths.KurvFile, inf.Paths.LogsDir, inf.Paths.WorkingDir, log.WithField("component", "reconcile"))
	supervisor.SetMetrics(router)

	group, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:    apiHost + ":" + apiPort,
		Handler: router,
	}

	group.Go(func() error {
		log.Infof("kurv api listening on http://%s:%s/", apiHost, apiPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		return httpServer.Close()
	})

	group.Go(func() error {
		return supervisor.Run(gctx)
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debugf("systemd readiness notify failed: %v", err)
	} else if sent {
		log.Debug("notified systemd readiness")
	}

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newServiceCmd runs kurv under the host's native service manager (for
// example systemd on Linux or the Windows service manager on Windows) so
// that manager, rather than a shell, owns the process's lifecycle.
func newServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "service",
		Short: "Run the server under the host's native service manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newOSService()
			if err != nil {
				return fmt.Errorf("failed to construct OS service: %w", err)
			}
			return svc.Run()
		},
	}
}

// kurvService adapts runServerCtx to kardianos/service.Interface: Start
// launches the server against a context only this service instance
// owns, and Stop cancels that same context, so the service manager's
// stop signal reaches the reconciliation loop and HTTP server exactly
// like SIGTERM does for runServer.
type kurvService struct {
	cancel context.CancelFunc
}

func (k *kurvService) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	go func() {
		if err := runServerCtx(ctx); err != nil {
			logrus.WithField("component", "kurv").Error(err)
		}
	}()
	return nil
}

func (k *kurvService) Stop(s service.Service) error {
	if k.cancel != nil {
		k.cancel()
	}
	return nil
}

func newOSService() (service.Service, error) {
	cfg := &service.Config{
		Name:        "kurv",
		DisplayName: "kurv process supervisor",
		Description: "Launches, monitors and restarts supervised child processes.",
	}
	return service.New(&kurvService{}, cfg)
}
