package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, context.Canceled) {
			// Interrupted between actions: a clean shutdown.
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
