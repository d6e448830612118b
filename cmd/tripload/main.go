package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

const (
	// exitFail is the exit code if the program fails.
	exitFail = 1
	// exitSuccess is the exit code if the program succeeds, including a skipped file.
	exitSuccess = 0
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(newApp(os.Stdout, os.Stderr))
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(exitFail)
	}
	stop()
	os.Exit(exitSuccess)
}
