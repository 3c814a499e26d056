//go:build linux

// File: internal/cli/sleep.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-fiber/hook"
)

// sleepReport is the outcome of one sleep run.
type sleepReport struct {
	Tasks    int
	Sleep    time.Duration
	Finished int
	Elapsed  time.Duration
}

func (r sleepReport) String() string {
	return fmt.Sprintf("%d/%d sleepers of %s finished in %s", r.Finished, r.Tasks, r.Sleep, r.Elapsed.Round(time.Millisecond))
}

func buildSleepCommand(o *options) *cobra.Command {
	var (
		tasks int
		d     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sleep",
		Short: "Run concurrent hooked sleeps and report the wall time",
		Long: `Schedules --tasks fibers that each sleep for --duration through the hook
layer. With cooperative sleeping the wall time stays close to one duration
regardless of the thread count.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := o.runSleep(tasks, d)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), r)
			return err
		},
	}
	cmd.Flags().IntVarP(&tasks, "tasks", "n", 2, "number of sleeping fibers")
	cmd.Flags().DurationVarP(&d, "duration", "d", time.Second, "sleep duration per fiber")
	return cmd
}

func (o *options) runSleep(tasks int, d time.Duration) (sleepReport, error) {
	if tasks <= 0 {
		return sleepReport{}, fmt.Errorf("tasks must be positive, got %d", tasks)
	}
	m, err := o.newIOManager("sleep")
	if err != nil {
		return sleepReport{}, err
	}
	var finished atomic.Int32
	start := time.Now()
	for i := 0; i < tasks; i++ {
		m.Schedule(func(ctx context.Context) {
			hook.SleepFor(ctx, d)
			finished.Add(1)
		})
	}
	m.Stop()
	return sleepReport{
		Tasks:    tasks,
		Sleep:    d,
		Finished: int(finished.Load()),
		Elapsed:  time.Since(start),
	}, nil
}
