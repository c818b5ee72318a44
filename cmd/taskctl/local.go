package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/tasksync/pkg/localstore"
	"github.com/Sternrassler/tasksync/pkg/logging"
	"github.com/Sternrassler/tasksync/pkg/task"
	"github.com/spf13/cobra"
)

// withLocal opens the configured storage and loads the offline task list.
func withLocal(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, s *localstore.Store, out printer) error) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	backend, closeStorage, err := openStorage(ctx, cfg.Storage, logging.NewLogger("storage"))
	if err != nil {
		return err
	}
	defer closeStorage()

	s := localstore.New(backend, logging.NewLogger("localstore"))
	if err := s.Load(ctx); err != nil {
		return err
	}
	return fn(ctx, s, printer{format: opts.Output, w: cmd.OutOrStdout()})
}

func newLocalCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Manage the offline task list",
		Long: `Manage a task list kept only in local storage.

Local tasks never reach the task API. They are saved under the
"task-storage" namespace of the configured storage backend.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List local tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd, opts, func(_ context.Context, s *localstore.Store, out printer) error {
				return out.tasks(s.Tasks())
			})
		},
	})

	var in task.Input
	var status string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a local task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Status = task.Status(status)
			return withLocal(cmd, opts, func(ctx context.Context, s *localstore.Store, out printer) error {
				t, err := s.Add(ctx, in)
				if err != nil {
					return err
				}
				return out.task(t)
			})
		},
	}
	add.Flags().StringVar(&in.Title, "title", "", "task title (required)")
	add.Flags().StringVar(&in.Description, "description", "", "task description")
	add.Flags().StringVar(&status, "status", string(task.StatusPending), "initial status")
	add.MarkFlagRequired("title")
	cmd.AddCommand(add)

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a local task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := patchFromFlags(cmd)
			return withLocal(cmd, opts, func(ctx context.Context, s *localstore.Store, out printer) error {
				t, err := s.Update(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return out.task(t)
			})
		},
	}
	update.Flags().String("title", "", "new title")
	update.Flags().String("description", "", "new description")
	update.Flags().String("status", "", "new status (pending|inProgress|complete)")
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a local task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd, opts, func(ctx context.Context, s *localstore.Store, _ printer) error {
				if err := s.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted local task %s\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clean",
		Short: "Remove every local task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd, opts, func(ctx context.Context, s *localstore.Store, _ printer) error {
				n := len(s.Tasks())
				if err := s.Clean(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d local tasks\n", n)
				return nil
			})
		},
	})

	return cmd
}
