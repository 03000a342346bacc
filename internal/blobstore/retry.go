package blobstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	dberrors "github.com/embedgraph/core/internal/errors"
)

// RetryConfig bounds the exponential backoff applied around every
// Adapter call (spec.md §5: "capped at 10 s and 3 attempts by default").
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// RetryingAdapter wraps an Adapter, retrying only errors classified
// StorageTransient by internal/errors, using cenkalti/backoff/v4's
// exponential backoff (SPEC_FULL.md §2, §4.1).
type RetryingAdapter struct {
	inner Adapter
	cfg   RetryConfig
}

// NewRetryingAdapter wraps inner with transient-error retry.
func NewRetryingAdapter(inner Adapter, cfg RetryConfig) *RetryingAdapter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	return &RetryingAdapter{inner: inner, cfg: cfg}
}

func (r *RetryingAdapter) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.InitialDelay
	eb.MaxInterval = r.cfg.MaxDelay
	eb.MaxElapsedTime = 0 // bounded by attempt count instead

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.cfg.MaxAttempts-1)), ctx)
}

func (r *RetryingAdapter) run(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !dberrors.IsKind(err, dberrors.KindStorageTransient) {
			return backoff.Permanent(err)
		}
		return err
	}, r.backOff(ctx))
}

func (r *RetryingAdapter) Get(ctx context.Context, key string) (data []byte, version string, found bool, err error) {
	err = r.run(ctx, func() error {
		data, version, found, err = r.inner.Get(ctx, key)
		return err
	})
	return
}

func (r *RetryingAdapter) Put(ctx context.Context, key string, data []byte) (version string, err error) {
	err = r.run(ctx, func() error {
		version, err = r.inner.Put(ctx, key, data)
		return err
	})
	return
}

func (r *RetryingAdapter) CompareAndSwap(ctx context.Context, key, expectedVersion string, newData []byte) (version string, err error) {
	err = r.run(ctx, func() error {
		version, err = r.inner.CompareAndSwap(ctx, key, expectedVersion, newData)
		return err
	})
	return
}

func (r *RetryingAdapter) Delete(ctx context.Context, key string) error {
	return r.run(ctx, func() error {
		return r.inner.Delete(ctx, key)
	})
}

func (r *RetryingAdapter) DeleteBatch(ctx context.Context, keys []string) (result *DeleteResult, err error) {
	err = r.run(ctx, func() error {
		result, err = r.inner.DeleteBatch(ctx, keys)
		return err
	})
	return
}

func (r *RetryingAdapter) Exists(ctx context.Context, key string) (exists bool, err error) {
	err = r.run(ctx, func() error {
		exists, err = r.inner.Exists(ctx, key)
		return err
	})
	return
}

func (r *RetryingAdapter) ListPrefix(ctx context.Context, prefix, cursor string, limit int) (page *ListPage, err error) {
	err = r.run(ctx, func() error {
		page, err = r.inner.ListPrefix(ctx, prefix, cursor, limit)
		return err
	})
	return
}

func (r *RetryingAdapter) Capabilities() Capabilities {
	return r.inner.Capabilities()
}

var _ Adapter = (*RetryingAdapter)(nil)
