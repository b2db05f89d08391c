package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/formtrack/internal/exercise"
)

func newTypesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List supported exercises",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc := a.catalog.For(a.languages()...)
			w := out(cmd)
			fmt.Fprintln(w, headerStyle.Render("Exercises"))
			for _, key := range exercise.Types() {
				fmt.Fprintf(w, "  %s %s\n", loc.Exercise(key), keyStyle.Render("("+key+")"))
			}
			return nil
		},
	}
}
