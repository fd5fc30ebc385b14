package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zefrenchwan/registries.git/config"
	"github.com/zefrenchwan/registries.git/jobs"
	"github.com/zefrenchwan/registries.git/logging"
	"github.com/zefrenchwan/registries.git/schema"
	"github.com/zefrenchwan/registries.git/sinks"
	"github.com/zefrenchwan/registries.git/storage"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Schema  string
}

// NewRootCommand creates the root command of the registries CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "registries",
		Short: "Registries - compare, apply and relate source snapshots",
		Long: `Registries keeps collections of entities current from source snapshots.

Snapshots are compared to stored entities, producing events that are applied
to the store. References between collections are derived into relation rows.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "optional env file to read settings from")
	cmd.PersistentFlags().StringVar(&opts.Schema, "schema", "", "schema file, overrides REGISTRIES_SCHEMA_FILE")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewRelateCommand(opts))
	cmd.AddCommand(NewRelateAllCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))

	return cmd
}

// environment holds what every command works with
type environment struct {
	config   config.Config
	logger   *zap.SugaredLogger
	registry schema.Registry
	store    storage.Store
	runner   *jobs.Runner
	closers  []func() error
}

// setup loads settings, schema and store, then builds the runner
func setup(ctx context.Context, opts *RootOptions) (*environment, error) {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return nil, err
	}

	if opts.Schema != "" {
		cfg.SchemaFile = opts.Schema
	}

	logger, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return nil, err
	}

	result := &environment{config: cfg, logger: logger}
	if result.registry, err = schema.Load(cfg.SchemaFile); err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	if cfg.DatabaseURL == "" {
		logger.Warnw("no database set, using an in memory store", "key", config.ENV_PREFIX+"DB_URL")
		result.store = storage.NewMemoryStore()
	} else {
		dao, err := storage.NewDao(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}

		result.closers = append(result.closers, func() error {
			dao.Close()
			return nil
		})

		if err := dao.Migrate(ctx); err != nil {
			result.close()
			return nil, fmt.Errorf("database migration failed: %w", err)
		}

		result.store = dao
	}

	options := jobs.Options{
		ConfirmBatchSize:    cfg.ConfirmBatchSize,
		RelatePageSize:      cfg.RelatePageSize,
		FullRelateThreshold: cfg.FullRelateThreshold,
		MaxWarnings:         cfg.MaxConflictReports,
		MaxConcurrentJobs:   cfg.MaxConcurrentJobs,
	}

	result.runner = jobs.NewRunner(result.registry, result.store, logger, options).
		WithSinks(result.sinkFactory())
	return result, nil
}

// sinkFactory writes artifacts to files and kafka topics, when configured
func (e *environment) sinkFactory() jobs.SinkFactory {
	var events, relations sinks.Sink
	if len(e.config.KafkaBrokers) != 0 {
		settings := sinks.KafkaConfig{Brokers: e.config.KafkaBrokers, BatchSize: e.config.KafkaBatchSize}
		settings.Topic = e.config.KafkaEventsTopic
		publisher := sinks.NewKafkaSink(settings, e.logger)
		e.closers = append(e.closers, publisher.Close)
		events = sinks.Shared(publisher)

		settings.Topic = e.config.KafkaRelationsTopic
		publisher = sinks.NewKafkaSink(settings, e.logger)
		e.closers = append(e.closers, publisher.Close)
		relations = sinks.Shared(publisher)
	}

	directory := e.config.ArtifactsDir
	return func(ctx context.Context, job, catalog, collection, run string) (sinks.Sink, error) {
		var files sinks.Sink
		if directory != "" {
			sink, err := sinks.NewFileSink(directory, catalog, collection, run)
			if err != nil {
				return nil, err
			}

			files = sink
		}

		publisher := events
		if job == jobs.JOB_RELATE {
			publisher = relations
		}

		return sinks.Multi(files, publisher), nil
	}
}

func (e *environment) close() error {
	var errs []error
	for index := len(e.closers) - 1; index >= 0; index-- {
		errs = append(errs, e.closers[index]())
	}

	e.closers = nil
	if e.logger != nil {
		_ = e.logger.Sync()
	}

	return errors.Join(errs...)
}

// run sets the environment up, calls fn, then releases resources
func run(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, env *environment) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := setup(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, env.close())
	}()

	return fn(ctx, env)
}

// printJSON writes value indented to the command output
func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
