package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashureev/formtrack/internal/estimator"
	"github.com/ashureev/formtrack/internal/exercise"
	"github.com/ashureev/formtrack/internal/feedback"
)

type liveOptions struct {
	exercise string
	camera   int
	replay   string
}

func newLiveCmd(a *app) *cobra.Command {
	opts := &liveOptions{}
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Follow a camera and print reps as they happen",
		Long: `Follow a camera attached to the pose service host and print every
rep and cue change until interrupted. --replay feeds a landmark file through
the same display instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLive(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.exercise, "exercise", "e", "", "exercise type (see `formctl types`)")
	cmd.Flags().IntVar(&opts.camera, "camera", 0, "camera index on the pose service host")
	cmd.Flags().StringVar(&opts.replay, "replay", "", "landmark file to replay instead of a camera")
	_ = cmd.MarkFlagRequired("exercise")
	return cmd
}

func (a *app) runLive(cmd *cobra.Command, opts *liveOptions) error {
	counter, err := exercise.New(opts.exercise)
	if err != nil {
		return err
	}

	src := estimator.Source{Live: true, CameraIndex: opts.camera}
	if opts.replay != "" {
		path, err := filepath.Abs(opts.replay)
		if err != nil {
			return fmt.Errorf("resolve replay file: %w", err)
		}
		src = estimator.Source{Path: path}
	}

	est, release, err := a.estimatorFor(src.Live)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := a.catalog.For(a.languages()...)
	w := out(cmd)
	fmt.Fprintln(w, headerStyle.Render(loc.Exercise(counter.Key())))

	var last exercise.State
	seen := map[exercise.Mistake]bool{}
	for frame, err := range est.Estimate(ctx, src) {
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("estimate pose: %w", err)
		}
		st, ok := counter.Update(frame)
		if !ok {
			continue
		}
		if st.Reps() != last.Reps() || st.Feedback != last.Feedback {
			fmt.Fprintln(w, row("Reps "+countStyle.Render(strconv.Itoa(st.Reps())), loc.Feedback(st.Feedback)))
		}
		for _, m := range counter.Mistakes() {
			if !seen[m] {
				seen[m] = true
				fmt.Fprintln(w, warnStyle.Render("  ! "+loc.Mistake(m)))
			}
		}
		last = st
	}

	printLiveSummary(ctx, w, loc, counter)
	return nil
}

func printLiveSummary(ctx context.Context, w io.Writer, loc *feedback.Localizer, counter exercise.Counter) {
	st := counter.State()
	status := "finished"
	if ctx.Err() != nil {
		status = "stopped"
	}
	fmt.Fprintln(w, headerStyle.Render("Session "+status))
	fmt.Fprintln(w, row("Reps", countStyle.Render(strconv.Itoa(st.Reps()))))
	for _, m := range loc.Mistakes(counter.Mistakes()) {
		fmt.Fprintln(w, row("Mistake", warnStyle.Render(m)))
	}
}
