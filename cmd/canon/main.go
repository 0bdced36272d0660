package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"canon/internal/canonerr"
)

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(canonerr.ExitCode(err))
}
