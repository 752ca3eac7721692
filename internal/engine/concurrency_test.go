package engine_test

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/buildgridgo/internal/digest"
	"github.com/specialistvlad/buildgridgo/internal/engine"
	"github.com/specialistvlad/buildgridgo/internal/rule"
	"github.com/specialistvlad/buildgridgo/internal/testutil"
)

func TestConcurrentRequests_ExecuteNodeOnce(t *testing.T) {
	t.Parallel()
	h := testutil.NewHarness(t)

	var runs atomic.Int32
	h.MustRegister(&rule.Rule{
		Name:   "shared",
		Output: "test.Shared",
		Codec:  rule.BytesCodec(),
		Body: func(ctx context.Context, ex rule.Exec, params rule.Params) (any, error) {
			runs.Add(1)
			time.Sleep(20 * time.Millisecond)
			return []byte("shared result"), nil
		},
	})
	e := h.Engine(engine.Config{})

	const callers = 16
	var wg sync.WaitGroup
	digests := make([]digest.Digest, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.Execute(context.Background(), rule.Request{Type: "test.Shared"})
			digests[i], errs[i] = v.Digest, err
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load(), "at most one concurrent execution per node per epoch")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, digests[0], digests[i], "all callers receive the same result digest")
	}
}

func TestCancellation_SharedNodeSurvivesOneCallerCancelling(t *testing.T) {
	t.Parallel()
	h := testutil.NewHarness(t)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	h.MustRegister(&rule.Rule{
		Name:   "held",
		Output: "test.Held",
		Codec:  rule.BytesCodec(),
		Body: func(ctx context.Context, ex rule.Exec, params rule.Params) (any, error) {
			started <- struct{}{}
			select {
			case <-release:
				return []byte("survived"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	e := h.Engine(engine.Config{})

	req := rule.Request{Type: "test.Held"}
	cancellable, cancel := context.WithCancel(context.Background())

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.Execute(cancellable, req)
		firstErr <- err
	}()
	secondRes := make(chan rule.Value, 1)
	secondErr := make(chan error, 1)
	go func() {
		v, err := e.Execute(context.Background(), req)
		secondRes <- v
		secondErr <- err
	}()

	// Wait until the single computation is running, then make sure both
	// callers attached before cancelling one of them.
	<-started
	time.Sleep(20 * time.Millisecond)
	cancel()
	err := <-firstErr
	assert.Equal(t, engine.KindCancelled, engine.KindOf(err))

	// The computation is shared with a live request, so it keeps running.
	close(release)
	require.NoError(t, <-secondErr)
	assert.Equal(t, []byte("survived"), (<-secondRes).Data)
}

func TestCancellation_LastWaiterCancelsComputation(t *testing.T) {
	t.Parallel()
	h := testutil.NewHarness(t)

	bodyCancelled := make(chan struct{})
	started := make(chan struct{})
	h.MustRegister(&rule.Rule{
		Name:   "lonely",
		Output: "test.Lonely",
		Codec:  rule.BytesCodec(),
		Body: func(ctx context.Context, ex rule.Exec, params rule.Params) (any, error) {
			close(started)
			<-ctx.Done()
			close(bodyCancelled)
			return nil, ctx.Err()
		},
	})
	e := h.Engine(engine.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, rule.Request{Type: "test.Lonely"})
		errCh <- err
	}()

	<-started
	cancel()
	<-errCh

	select {
	case <-bodyCancelled:
		// Reference count hit zero, the computation context was cancelled.
	case <-time.After(2 * time.Second):
		t.Fatal("computation was not cancelled after its last waiter left")
	}
}

func TestGetAll_SiblingsRunToCompletionOnFailure(t *testing.T) {
	t.Parallel()
	h := testutil.NewHarness(t)

	var slowFinished atomic.Bool
	h.MustRegister(&rule.Rule{
		Name:   "fast-fail",
		Output: "test.FastFail",
		Codec:  rule.BytesCodec(),
		Body: func(ctx context.Context, ex rule.Exec, params rule.Params) (any, error) {
			return nil, assert.AnError
		},
	})
	h.MustRegister(&rule.Rule{
		Name:   "slow-ok",
		Output: "test.SlowOK",
		Codec:  rule.BytesCodec(),
		Body: func(ctx context.Context, ex rule.Exec, params rule.Params) (any, error) {
			time.Sleep(50 * time.Millisecond)
			slowFinished.Store(true)
			return []byte("ok"), nil
		},
	})
	h.MustRegister(&rule.Rule{
		Name:   "fanout",
		Output: "test.Fanout",
		Codec:  rule.BytesCodec(),
		Body: func(ctx context.Context, ex rule.Exec, params rule.Params) (any, error) {
			_, err := ex.GetAll(ctx,
				rule.Request{Type: "test.FastFail"},
				rule.Request{Type: "test.SlowOK"},
			)
			return []byte("unreachable"), err
		},
	})
	e := h.Engine(engine.Config{})

	_, err := e.Execute(context.Background(), rule.Request{Type: "test.Fanout"})
	require.Error(t, err)
	assert.Equal(t, engine.KindExecutionFailure, engine.KindOf(err))
	assert.True(t, slowFinished.Load(), "an already-launched sibling runs to completion")
}

func TestDeepChain_DoesNotExhaustWorkerPool(t *testing.T) {
	t.Parallel()
	h := testutil.NewHarness(t)

	// A chain far deeper than the pool: every link suspends while waiting
	// on the next, so two worker slots are enough.
	const depth = 64
	h.MustRegister(&rule.Rule{
		Name:   "chain",
		Output: "test.Chain",
		Codec:  rule.BytesCodec(),
		Body: func(ctx context.Context, ex rule.Exec, params rule.Params) (any, error) {
			n, err := strconv.Atoi(params.Get("n"))
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return []byte("bottom"), nil
			}
			v, err := ex.Get(ctx, rule.Request{
				Type:   "test.Chain",
				Params: rule.Params{{Name: "n", Value: strconv.Itoa(n - 1)}},
			})
			if err != nil {
				return nil, err
			}
			return v.Data, nil
		},
	})
	e := h.Engine(engine.Config{Workers: 2})

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := e.Execute(context.Background(), rule.Request{
			Type:   "test.Chain",
			Params: rule.Params{{Name: "n", Value: strconv.Itoa(depth)}},
		})
		assert.NoError(t, err)
		assert.Equal(t, []byte("bottom"), v.Data)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("deep chain deadlocked the worker pool")
	}
}
