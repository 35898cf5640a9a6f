package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode reports err on stderr unless the command already explained it.
func exitCode(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, errNotReady):
		return 2
	default:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
}
