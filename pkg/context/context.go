package context

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/assetnote/kiteupload/pkg/log"
)

var (
	ctx            context.Context
	cancel         context.CancelFunc
	ctxInitialized sync.Once
)

// AddInterruptCancellation cancels ctx on the first SIGINT or SIGTERM, which aborts an upload between
// two chunks and releases its connection. A second signal exits immediately.
// The handler stops listening once ctx is done
func AddInterruptCancellation(ctx context.Context, cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case sig := <-c:
			log.Info().Str("signal", sig.String()).Msg("Received interrupt signal. Aborting upload")
			cancel()
		case <-ctx.Done():
			return
		}
		<-c
		log.Info().Msg("Received multiple interrupt signals. Exiting")
		os.Exit(1)
	}()
}

// InitContext will initialize the global context used to catch interrupts. This is automatically called
// by Context and Cancel
func InitContext() {
	ctxInitialized.Do(func() {
		ctx, cancel = context.WithCancel(context.Background())
		AddInterruptCancellation(ctx, cancel)
	})
}

// Context returns the global context, cancelled on interrupt. It is safe to call from multiple
// goroutines and always returns the same context
func Context() context.Context {
	InitContext()
	return ctx
}

// Cancel will cancel the global context
func Cancel() {
	InitContext()
	cancel()
}
