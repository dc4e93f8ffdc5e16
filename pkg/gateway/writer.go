package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// writer runs store writes as best-effort background tasks.
// Outcomes are only observed through logs and metrics.
type writer struct {
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// dispatch runs fn on its own goroutine. The write is detached from ctx's
// cancellation so that finishing the request does not abort it.
func (w *writer) dispatch(ctx context.Context, store, key string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		err := safeWrite(ctx, fn)
		if err != nil {
			storeWrites.WithLabelValues(store, "error").Inc()
			w.logger.Error().
				Err(err).
				Str("store", store).
				Str("cache_key", key).
				Msg("Cache write failed")
			return
		}

		storeWrites.WithLabelValues(store, "ok").Inc()
		w.logger.Debug().
			Str("store", store).
			Str("cache_key", key).
			Msg("Cache write completed")
	}()
}

// wait blocks until every dispatched write has finished.
func (w *writer) wait() {
	w.wg.Wait()
}

func safeWrite(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in store write: %v", r)
		}
	}()
	return fn(ctx)
}
