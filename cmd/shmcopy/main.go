// Command shmcopy copies a file between two cooperating processes through a
// named shared memory segment. Start it twice with the same arguments: the
// first process reads the source, the second writes the destination.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
