// formctl counts exercise reps from the command line.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp().rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
