// File: cmd/hioload-http/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-http runs a demo server: plain HTTP routes, a WebSocket echo
// channel and a long-poll echo channel.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
