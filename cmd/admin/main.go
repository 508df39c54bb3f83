// Command admin runs operator tasks against the live counters and the archive:
// manual rollup flushes, counter inspection, broadcast teardown, schema migrations
// and synthetic traffic.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
