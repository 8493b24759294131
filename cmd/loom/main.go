package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// Interrupted commands exit nonzero without repeating the cancellation.
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "loom:", err)
		}
		os.Exit(1)
	}
}
