package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/relate"
	"github.com/zefrenchwan/registries.git/sinks"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <snapshot.json>",
		Short: "Compare a snapshot to stored entities and apply the resulting events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := readSnapshot(args[0])
			if err != nil {
				return err
			}

			return run(cmd, rootOpts, func(ctx context.Context, env *environment) error {
				result, err := env.runner.Import(ctx, snapshot)
				if result != nil {
					if errPrint := printJSON(cmd, result); errPrint != nil {
						return errPrint
					}
				}

				return err
			})
		},
	}
}

func readSnapshot(path string) (model.Snapshot, error) {
	var snapshot model.Snapshot
	file, err := os.Open(path)
	if err != nil {
		return snapshot, err
	}

	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.UseNumber()
	if err := decoder.Decode(&snapshot); err != nil {
		return snapshot, fmt.Errorf("invalid snapshot %s: %w", path, err)
	}

	return snapshot, nil
}

// NewRelateCommand creates the relate command.
func NewRelateCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "relate <catalog> <collection> <field>",
		Short: "Derive relation rows of a reference field",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := relate.Request{Catalog: args[0], Collection: args[1], Field: args[2], ForceFull: force}
			return run(cmd, rootOpts, func(ctx context.Context, env *environment) error {
				report, err := env.runner.Relate(ctx, request)
				if report != nil {
					if errPrint := printJSON(cmd, report); errPrint != nil {
						return errPrint
					}
				}

				return err
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "recompute all relations instead of changes only")
	return cmd
}

// NewRelateAllCommand creates the relate-all command.
func NewRelateAllCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool
	var catalog string
	cmd := &cobra.Command{
		Use:   "relate-all",
		Short: "Derive relation rows of every reference field, concurrently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, env *environment) error {
				reports, err := env.runner.RelateAll(ctx, catalog, force)
				if errPrint := printJSON(cmd, reports); errPrint != nil {
					return errPrint
				}

				return err
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "recompute all relations instead of changes only")
	cmd.Flags().StringVar(&catalog, "catalog", "", "only relate references of that catalog")
	return cmd
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var drain []string
	cmd := &cobra.Command{
		Use:   "apply [events.jsonl]",
		Short: "Apply an events artifact, or drain pending events of a collection",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (len(drain) == 0) {
				return fmt.Errorf("expecting either an events file or --drain catalog,collection")
			} else if len(drain) != 0 && len(drain) != 2 {
				return fmt.Errorf("--drain expects catalog,collection")
			}

			var events []model.Event
			if len(args) == 1 {
				var err error
				if events, err = sinks.ReadEvents(args[0]); err != nil {
					return err
				}
			}

			return run(cmd, rootOpts, func(ctx context.Context, env *environment) error {
				var summary *model.Summary
				var err error
				if len(drain) == 2 {
					summary, err = env.runner.Drain(ctx, drain[0], drain[1])
				} else {
					summary, err = env.runner.ApplyEvents(ctx, events)
				}

				if summary != nil {
					if errPrint := printJSON(cmd, summary); errPrint != nil {
						return errPrint
					}
				}

				return err
			})
		},
	}

	cmd.Flags().StringSliceVar(&drain, "drain", nil, "catalog,collection to apply pending events of")
	return cmd
}
