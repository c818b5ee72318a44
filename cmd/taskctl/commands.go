package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/tasksync/pkg/task"
	"github.com/spf13/cobra"
)

// withApp loads the configuration, builds the engine and runs fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app, out printer) error) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	runErr := fn(ctx, a, printer{format: opts.Output, w: cmd.OutOrStdout()})
	if err := a.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
	return runErr
}

// staleOK keeps a read usable when a refetch failed but cached data exists.
func staleOK(cmd *cobra.Command, hasData bool, err error) error {
	if err == nil {
		return nil
	}
	if hasData {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: showing cached data: %v\n", err)
		return nil
	}
	return err
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var status, search string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && search != "" {
				return errors.New("--status and --search are mutually exclusive")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app, out printer) error {
				var (
					tasks []task.Task
					err   error
				)
				switch {
				case status != "":
					s := task.Status(status)
					if !s.Valid() {
						return fmt.Errorf("invalid status %q", status)
					}
					tasks, err = a.tasks.ListByStatus(ctx, s)
				case search != "":
					tasks, err = a.tasks.Search(ctx, search)
				default:
					tasks, err = a.tasks.List(ctx)
				}
				if err := staleOK(cmd, tasks != nil, err); err != nil {
					return err
				}
				return out.tasks(tasks)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only tasks with this status (pending|inProgress|complete)")
	cmd.Flags().StringVar(&search, "search", "", "only tasks whose title contains this text")
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, out printer) error {
				t, err := a.tasks.Get(ctx, args[0])
				if err := staleOK(cmd, t.ID != "", err); err != nil {
					return err
				}
				return out.task(t)
			})
		},
	}
}

func newAddCommand(opts *rootOptions) *cobra.Command {
	var in task.Input
	var status string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Status = task.Status(status)
			return withApp(cmd, opts, func(ctx context.Context, a *app, out printer) error {
				t, err := a.tasks.Create(ctx, in)
				if err != nil {
					return fmt.Errorf("create task: %w", err)
				}
				return out.task(t)
			})
		},
	}

	cmd.Flags().StringVar(&in.Title, "title", "", "task title (required)")
	cmd.Flags().StringVar(&in.Description, "description", "", "task description")
	cmd.Flags().StringVar(&status, "status", string(task.StatusPending), "initial status")
	cmd.MarkFlagRequired("title")
	return cmd
}

// patchFromFlags builds a patch from the flags the user set.
func patchFromFlags(cmd *cobra.Command) task.Patch {
	var p task.Patch
	flags := cmd.Flags()
	if flags.Changed("title") {
		v, _ := flags.GetString("title")
		p.Title = &v
	}
	if flags.Changed("description") {
		v, _ := flags.GetString("description")
		p.Description = &v
	}
	if flags.Changed("status") {
		v, _ := flags.GetString("status")
		s := task.Status(v)
		p.Status = &s
	}
	return p
}

func newUpdateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := patchFromFlags(cmd)
			return withApp(cmd, opts, func(ctx context.Context, a *app, out printer) error {
				t, err := a.tasks.Update(ctx, args[0], patch)
				if err != nil {
					return fmt.Errorf("update task %s: %w", args[0], err)
				}
				return out.task(t)
			})
		},
	}

	cmd.Flags().String("title", "", "new title")
	cmd.Flags().String("description", "", "new description")
	cmd.Flags().String("status", "", "new status (pending|inProgress|complete)")
	return cmd
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, out printer) error {
				if err := a.tasks.Delete(ctx, args[0]); err != nil {
					return fmt.Errorf("delete task %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
				return nil
			})
		},
	}
}
