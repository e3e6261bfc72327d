// caracas keeps a request/reply session open to a head unit and toggles
// airplane mode from the power source.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"caracas/cmd"
	"caracas/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := cmd.Execute(ctx, os.Args[1:])
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "caracas: %v\n", err)

	var se *core.SessionError
	if errors.As(err, &se) {
		cancel()
		os.Exit(se.ExitCode())
	}
	cancel()
	os.Exit(1)
}
