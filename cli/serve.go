package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zefrenchwan/registries.git/serving"
)

// SHUTDOWN_TIMEOUT bounds the wait for running requests on stop
const SHUTDOWN_TIMEOUT = 30 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var login string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, env *environment) error {
				return serve(ctx, env, login)
			})
		},
	}

	cmd.Flags().StringVar(&login, "login", "registries", "login of the configured user, when no database holds users")
	return cmd
}

func serve(ctx context.Context, env *environment, login string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	parameters := serving.ServiceParameters{
		Runner: env.runner,
		Store:  env.store,
		Ctx:    ctx,
		Logger: env.logger,
	}

	// users come from the database, or from the configured secret
	if users, ok := env.store.(serving.Users); ok {
		parameters.Users = users
	} else if env.config.JWTSecret != "" {
		parameters.Users = serving.StaticUsers{Login: login, Secret: env.config.JWTSecret}
	} else {
		env.logger.Warnw("authentication is disabled, no database and no secret set")
	}

	server := &http.Server{
		Addr:              env.config.Port,
		Handler:           serving.InitService(parameters),
		ReadHeaderTimeout: 10 * time.Second,
	}

	failure := make(chan error, 1)
	go func() {
		env.logger.Infow("serving", "port", env.config.Port)
		failure <- server.ListenAndServe()
	}()

	select {
	case err := <-failure:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
	}

	env.logger.Infow("stopping server")
	shutdown, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()
	return server.Shutdown(shutdown)
}
