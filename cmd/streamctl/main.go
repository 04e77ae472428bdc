// streamctl tails a stream server: it prints every frame, optionally only
// some event types, and can set the shared frequency on connect.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"streamex.com/internal/quotes/client"
	"streamex.com/internal/quotes/event"
	"streamex.com/pkg/logger"
)

func main() {
	fs := pflag.NewFlagSet("streamctl", pflag.ExitOnError)
	url := fs.String("url", "ws://127.0.0.1:3000/ws", "stream server websocket url")
	freqMs := fs.Int64("frequency", 0, "send {\"frequency_ms\": N} after connecting (0 = don't)")
	types := fs.StringSlice("type", nil, "only print these event types (price,trade,book,system)")
	logLevel := fs.String("log-level", "warn", "log level")
	_ = fs.Parse(os.Args[1:])

	logger.Init("streamctl", *logLevel)
	defer logger.Sync()

	filter := make(map[event.Type]bool, len(*types))
	for _, t := range *types {
		filter[event.Type(t)] = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub := &client.Subscriber{
		URL:         *url,
		FrequencyMs: *freqMs,
		OnEvent: func(ev event.Event) {
			if len(filter) > 0 && !filter[ev.Kind()] {
				return
			}
			b, err := event.Encode(ev)
			if err != nil {
				return
			}
			fmt.Println(string(b))
		},
	}
	if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
