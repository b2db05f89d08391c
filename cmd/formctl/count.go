package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/formtrack/internal/analysis"
	"github.com/ashureev/formtrack/internal/estimator"
)

type countOptions struct {
	exercise string
	input    string
	expected int
	stride   int
	asJSON   bool
}

func newCountCmd(a *app) *cobra.Command {
	opts := &countOptions{}
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count reps in a video or landmark file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runCount(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.exercise, "exercise", "e", "", "exercise type (see `formctl types`)")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "video or landmark file")
	cmd.Flags().IntVarP(&opts.expected, "expected", "n", 10, "expected number of reps")
	cmd.Flags().IntVar(&opts.stride, "stride", 0, "analyze every Nth frame (default from config)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("exercise")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (a *app) runCount(cmd *cobra.Command, opts *countOptions) error {
	path, err := filepath.Abs(opts.input)
	if err != nil {
		return fmt.Errorf("resolve input: %w", err)
	}

	est, release, err := a.estimatorFor(!estimator.IsLandmarkFile(path))
	if err != nil {
		return err
	}
	defer release()

	stride := opts.stride
	if stride <= 0 {
		stride = a.v.GetInt("stride")
	}

	svc := analysis.NewService(est, a.catalog, nil, a.logger)
	res, err := svc.Analyze(cmd.Context(), analysis.Request{
		Exercise:     opts.exercise,
		Source:       estimator.Source{Path: path},
		ExpectedReps: opts.expected,
		Stride:       stride,
		Languages:    a.languages(),
	})
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out(cmd))
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(out(cmd), res)
	return nil
}

func printResult(w io.Writer, res *analysis.Result) {
	fmt.Fprintln(w, headerStyle.Render(res.Exercise))
	fmt.Fprintln(w, row("Reps", countStyle.Render(strconv.Itoa(res.ActualReps))+
		keyStyle.Render(fmt.Sprintf(" / %d expected", res.ExpectedReps))))

	form := goodStyle.Render(res.FormScore)
	if !res.FormCorrect {
		form = warnStyle.Render(res.FormScore)
	}
	fmt.Fprintln(w, row("Form", form))
	fmt.Fprintln(w, row("Score", strconv.Itoa(res.Score(res.ExpectedReps))))
	fmt.Fprintln(w, row("Feedback", res.Feedback))
	fmt.Fprintln(w, row("Frames", fmt.Sprintf("%d analyzed, %d without pose", res.FramesAnalyzed, res.FramesSkipped)))

	if len(res.Mistakes) == 0 {
		fmt.Fprintln(w, row("Mistakes", goodStyle.Render("none")))
		return
	}
	fmt.Fprintln(w, row("Mistakes", warnStyle.Render(strings.Join(res.Mistakes, "\n"))))
}
