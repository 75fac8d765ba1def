package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/agentmesh-ai/meshd/internal/api"
	"github.com/agentmesh-ai/meshd/internal/auth"
	"github.com/agentmesh-ai/meshd/internal/config"
	"github.com/agentmesh-ai/meshd/internal/connector"
	"github.com/agentmesh-ai/meshd/internal/flags"
	"github.com/agentmesh-ai/meshd/internal/notify"
	"github.com/agentmesh-ai/meshd/internal/ratelimit"
	"github.com/agentmesh-ai/meshd/internal/registry"
	"github.com/agentmesh-ai/meshd/internal/server"
	"github.com/agentmesh-ai/meshd/internal/tools"
)

// DaemonCmd represents the 'daemon' command.
type DaemonCmd struct {
	logger    hclog.Logger
	Addr      string
	cfgLoader config.Loader
}

// NewDaemonCmd creates the daemon command.
func NewDaemonCmd(logger hclog.Logger) *cobra.Command {
	c := &DaemonCmd{
		logger:    logger,
		cfgLoader: config.NewValidatingLoader(config.NewDefaultLoader()),
	}

	cobraCommand := &cobra.Command{
		Use:   "daemon [--addr]",
		Short: "Launches a meshd daemon instance",
		Long:  "Launches a meshd daemon instance, serving the protocol endpoint, the push channel and the management API",
		RunE:  c.run,
	}

	cobraCommand.Flags().StringVar(
		&c.Addr,
		"addr",
		"",
		"Address for the daemon to bind (overrides the config file)",
	)

	return cobraCommand
}

func (c *DaemonCmd) run(_ *cobra.Command, _ []string) error {
	logger := c.logger

	cfg, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if flagAddr := strings.TrimSpace(c.Addr); flagAddr != "" {
		addr = flagAddr
	}

	// Registries for the three trust levels.
	execution := registry.NewExecutionRegistry()
	catalog := registry.NewCatalogRegistry()
	versioned := registry.NewVersionedRegistry()

	if err := tools.Register(execution, catalog); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	push := server.NewPushChannel(logger, time.Duration(cfg.Notifications.HeartbeatInterval))
	notifier := notify.NewHandler(logger, push)

	catalog.OnChange(func(change registry.Change) {
		switch change.Kind {
		case registry.ChangeTools:
			notifier.EmitToolsListChanged()
		case registry.ChangeResources:
			notifier.EmitResourcesListChanged()
		case registry.ChangeResourceUpdated:
			notifier.EmitResourcesUpdated(change.URI)
		case registry.ChangePrompts:
			notifier.EmitPromptsListChanged()
		}
	})
	versioned.OnChange(func(registry.Change) {
		notifier.EmitToolsListChanged()
	})

	dispatcher, err := server.NewDispatcher(
		logger,
		server.Identity{Name: cfg.Server.Name, Version: cfg.Server.Version},
		catalog,
		execution,
		versioned,
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	verifier, err := auth.NewVerifier(logger, []byte(cfg.Auth.Secret), cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return fmt.Errorf("failed to create auth verifier: %w", err)
	}

	limiter := ratelimit.NewLimiter(logger, cfg.RateLimit.Max, time.Duration(cfg.RateLimit.Window))

	tracker := connector.NewTracker()
	metrics := connector.NewMetrics(nil)

	var manager *connector.Manager
	if cfg.Federation.ManifestURL != "" {
		manager, err = connector.NewManager(
			logger,
			cfg.Federation.ManifestURL,
			[]byte(cfg.Federation.VerifyKey),
			versioned,
			tracker,
			metrics,
			connector.WithSyncTimeout(time.Duration(cfg.Federation.SyncTimeout)),
			connector.WithCatalogChangedHook(notifier.EmitToolsListChanged),
		)
		if err != nil {
			return fmt.Errorf("failed to create connector manager: %w", err)
		}
	}

	srvOpts := []server.Option{
		server.WithShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeout)),
		server.WithAPIRegistrar(func(routerAPI huma.API) {
			api.RegisterHealthRoutes(routerAPI, logger, tracker, "/health")
			if manager != nil {
				api.RegisterConnectorRoutes(routerAPI, logger, manager, versioned, "/connectors")
			}
		}),
	}
	if cfg.CORS.Enabled {
		srvOpts = append(srvOpts, server.WithCORS(server.CORSConfig{
			Enabled:          true,
			AllowOrigins:     cfg.CORS.AllowOrigins,
			AllowMethods:     cfg.CORS.AllowMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			ExposedHeaders:   cfg.CORS.ExposedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           time.Duration(cfg.CORS.MaxAge),
		}))
	}

	srv, err := server.New(logger, addr, dispatcher, verifier, limiter, push, srvOpts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Signal handling context for the daemon.
	daemonCtx, daemonCtxCancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer daemonCtxCancel()

	go limiter.RunSweeper(daemonCtx, time.Duration(cfg.RateLimit.SweepInterval))
	if manager != nil {
		go manager.RunSyncLoop(daemonCtx, time.Duration(cfg.Federation.SyncInterval))
	}

	runErr := make(chan error, 1)
	go func() {
		if err := srv.Start(daemonCtx); err != nil && !errors.Is(err, context.Canceled) {
			runErr <- err
		}
		close(runErr)
	}()

	select {
	case <-daemonCtx.Done():
		logger.Info("Shutting down daemon")
		err := <-runErr // Wait for cleanup and deferred logging.
		notifier.Wait()
		return err
	case err := <-runErr:
		logger.Error("daemon exited with error", "error", err)
		return err
	}
}
