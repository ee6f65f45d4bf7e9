package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haatos/runbatch/internal"
	"github.com/haatos/runbatch/internal/execclient"
	"github.com/haatos/runbatch/internal/service"
	"github.com/haatos/runbatch/internal/store"
	"github.com/haatos/runbatch/internal/util"
	"github.com/spf13/cobra"
)

var (
	createName        string
	createMode        string
	createConcurrency int64
	createWatch       bool
	historyLimit      int64
)

func init() {
	createCmd := &cobra.Command{
		Use:   "create TARGET@VERSION...",
		Short: "Create a batch with one run per target",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCreate,
	}
	createCmd.Flags().StringVar(&createName, "name", "", "batch name")
	createCmd.Flags().StringVar(&createMode, "mode", string(store.ModeMock), "execution mode: real or mock")
	createCmd.Flags().Int64Var(&createConcurrency, "concurrency", 0, "runs executed at once")
	createCmd.Flags().BoolVar(&createWatch, "watch", false, "follow the batch until it completes")
	rootCmd.AddCommand(createCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List the latest batches",
		RunE:  runHistory,
	}
	historyCmd.Flags().Int64Var(&historyLimit, "limit", 0, "number of batches")
	rootCmd.AddCommand(historyCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "watch BATCH",
		Short: "Follow a batch until every run is finalized",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "result RUN",
		Short: "Show the result of a finished run",
		Args:  cobra.ExactArgs(1),
		RunE:  runResult,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "events RUN",
		Short: "Show the received events of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvents,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "retry RUN TEST",
		Short: "Re-execute one test of a finished run",
		Args:  cobra.ExactArgs(2),
		RunE:  runRetry,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "rename BATCH NAME",
		Short: "Rename a batch",
		Args:  cobra.ExactArgs(2),
		RunE:  runRename,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "delete BATCH",
		Short: "Delete a batch and its runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "cancel RUN",
		Short: "Cancel a queued or running run",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "resume RUN",
		Short: "Catch a run up and resubscribe to its events",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	})
}

func newController() (*service.BatchController, error) {
	t := execclient.Transport(transport)
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid transport %q", transport)
	}
	client := execclient.New(
		serviceURL,
		apiKey,
		execclient.WithTransport(t),
		execclient.WithTimeout(time.Duration(internal.Config.RequestTimeout)),
	)
	return service.NewBatchController(client, service.Options{
		EventLogCapacity:   int(internal.Config.EventLogCapacity),
		DefaultConcurrency: internal.Config.DefaultConcurrency,
		HistoryLimit:       internal.Config.HistoryLimit,
	}), nil
}

// withHistory runs fn against a controller holding the latest batches.
func withHistory(fn func(context.Context, *service.BatchController) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newController()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	if _, err := c.LoadHistory(ctx, historyLimit); err != nil {
		return err
	}
	return fn(ctx, c)
}

func runCreate(cmd *cobra.Command, args []string) error {
	targets, err := parseTargets(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newController()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	updates := c.Watch(ctx)
	br, err := c.CreateBatch(ctx, service.CreateBatchParams{
		Name:        createName,
		Targets:     targets,
		Mode:        store.Mode(createMode),
		Concurrency: createConcurrency,
	})
	if err != nil {
		return err
	}
	fmt.Println(renderBatch(br.Batch, terminalWidth()))
	if !createWatch {
		return nil
	}
	return follow(ctx, c, br.Batch.BatchID, updates)
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withHistory(func(ctx context.Context, c *service.BatchController) error {
		batches, err := c.Batches(ctx)
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			fmt.Println("No batches")
			return nil
		}
		width := terminalWidth()
		for _, b := range batches {
			fmt.Println(renderBatch(b, width))
		}
		return nil
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	batchID, err := util.ParseID(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newController()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	updates := c.Watch(ctx)
	if _, err := c.LoadHistory(ctx, historyLimit); err != nil {
		return err
	}
	return follow(ctx, c, batchID, updates)
}

// follow prints run progress until the batch completes or ctx is done.
func follow(
	ctx context.Context,
	c *service.BatchController,
	batchID int64,
	updates <-chan service.Update,
) error {
	br, err := c.Batch(ctx, batchID)
	if err != nil {
		return err
	}
	width := terminalWidth()
	for _, r := range br.Runs {
		fmt.Println(renderRun(r))
	}
	if br.Batch.Status == store.BatchCompleted {
		fmt.Println(renderBatch(br.Batch, width))
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Kind != service.Notice && u.BatchID != batchID {
				continue
			}
			switch u.Kind {
			case service.RunUpdated:
				fmt.Println(renderRun(*u.Run))
				if hint := resumeHint(u); hint != "" {
					fmt.Println(warningStyle.Render(hint))
				}
			case service.RunFinalized:
				fmt.Println(renderRun(*u.Run))
				if u.Result != nil {
					fmt.Print(renderResult(u.Result))
				}
			case service.BatchUpdated:
				fmt.Println(renderBatch(*u.Batch, width))
				if u.Batch.Status == store.BatchCompleted {
					return nil
				}
			case service.BatchDeleted:
				return service.ErrBatchNotFound
			case service.Notice:
				fmt.Println(warningStyle.Render(fmt.Sprintf("run %d: %v", u.RunID, u.Err)))
			}
		}
	}
}

func runResult(cmd *cobra.Command, args []string) error {
	runID, err := util.ParseID(args[0])
	if err != nil {
		return err
	}
	return withHistory(func(ctx context.Context, c *service.BatchController) error {
		v, err := c.Run(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Println(renderRun(v.Run))
		switch {
		case v.Result != nil:
			fmt.Print(renderResult(v.Result))
		case v.ResultPending:
			fmt.Println(warningStyle.Render("result pending"))
		case !v.Run.Status.IsTerminal():
			fmt.Println(dimmedStyle.Render("run has not finished"))
		}
		return nil
	})
}

func runEvents(cmd *cobra.Command, args []string) error {
	runID, err := util.ParseID(args[0])
	if err != nil {
		return err
	}
	return withHistory(func(ctx context.Context, c *service.BatchController) error {
		evs, err := c.Events(ctx, runID)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			fmt.Println(renderEvent(ev))
		}
		return nil
	})
}

func runRetry(cmd *cobra.Command, args []string) error {
	runID, err := util.ParseID(args[0])
	if err != nil {
		return err
	}
	return withHistory(func(ctx context.Context, c *service.BatchController) error {
		if err := c.RetryTest(ctx, runID, args[1]); err != nil {
			return err
		}
		res, err := c.Result(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Print(renderResult(res))
		return nil
	})
}

func runRename(cmd *cobra.Command, args []string) error {
	batchID, err := util.ParseID(args[0])
	if err != nil {
		return err
	}
	return withHistory(func(ctx context.Context, c *service.BatchController) error {
		return c.RenameBatch(ctx, batchID, args[1])
	})
}

func runDelete(cmd *cobra.Command, args []string) error {
	batchID, err := util.ParseID(args[0])
	if err != nil {
		return err
	}
	return withHistory(func(ctx context.Context, c *service.BatchController) error {
		if err := c.DeleteBatch(ctx, batchID); err != nil {
			return err
		}
		fmt.Printf("Deleted batch %d\n", batchID)
		return nil
	})
}

func runCancel(cmd *cobra.Command, args []string) error {
	runID, err := util.ParseID(args[0])
	if err != nil {
		return err
	}
	return withHistory(func(ctx context.Context, c *service.BatchController) error {
		return c.CancelRun(ctx, runID)
	})
}

func runResume(cmd *cobra.Command, args []string) error {
	runID, err := util.ParseID(args[0])
	if err != nil {
		return err
	}
	return withHistory(func(ctx context.Context, c *service.BatchController) error {
		err := c.ResumeRun(ctx, runID)
		if errors.Is(err, service.ErrRunFinalized) {
			fmt.Println(dimmedStyle.Render("run is already finalized"))
			return nil
		}
		if err != nil {
			return err
		}
		v, err := c.Run(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Println(renderRun(v.Run))
		return nil
	})
}
