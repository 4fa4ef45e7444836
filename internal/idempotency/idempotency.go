package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/vehicle-rentals/internal/adapters/redis"
)

// ErrInProgress is returned when a request with the same key is still running.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

const lockTTL = 30 * time.Second

type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	resp, err := i.backend.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "idempotency get")
	}
	if resp == nil {
		return nil, nil
	}
	return &Response{Status: resp.Status, Result: resp.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	err := i.backend.Set(ctx, key, redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
	return errors.Wrap(err, "idempotency set")
}

// Do returns the stored response for key or runs fn and stores its result.
// Only successful (2xx) responses are remembered so failed requests can be
// retried with the same key.
func (i *Idempotency) Do(ctx context.Context, key string, fn func() (Response, error)) (Response, bool, error) {
	if existing, err := i.Get(ctx, key); err != nil {
		return Response{}, false, err
	} else if existing != nil {
		return *existing, true, nil
	}

	ok, err := i.backend.Acquire(ctx, key, lockTTL)
	if err != nil {
		return Response{}, false, errors.Wrap(err, "idempotency lock")
	}
	if !ok {
		return Response{}, false, ErrInProgress
	}
	defer i.backend.Release(context.WithoutCancel(ctx), key)

	resp, err := fn()
	if err != nil {
		return Response{}, false, err
	}
	if resp.Status >= 200 && resp.Status < 300 {
		if err := i.Set(ctx, key, resp); err != nil {
			return resp, false, err
		}
	}
	return resp, false, nil
}
