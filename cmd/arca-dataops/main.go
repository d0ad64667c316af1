package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/akam1o/arca-dataops/pkg/opserr"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		klog.Infof("Received signal %v, cancelling", sig)
		cancel()
	}()

	err := newRootCommand(buildBackend).ExecuteContext(ctx)
	klog.Flush()
	if err != nil {
		klog.Errorf("%v", err)
		klog.Flush()
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy onto process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, opserr.ErrValidation), errors.Is(err, opserr.ErrInvalidSnapshotParameter),
		errors.Is(err, opserr.ErrInvalidVolumeParameter), errors.Is(err, opserr.ErrConfiguration):
		return 2
	case errors.Is(err, opserr.ErrNotFound):
		return 3
	case errors.Is(err, opserr.ErrConflict):
		return 4
	case errors.Is(err, opserr.ErrTimeout):
		return 5
	case errors.Is(err, opserr.ErrUnsupported):
		return 6
	default:
		return 1
	}
}
