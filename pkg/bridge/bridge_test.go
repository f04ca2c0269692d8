package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend failure")

func TestGoSuccess(t *testing.T) {
	f := Go(context.Background(), "list readers", "", func(context.Context) ([]string, error) {
		return []string{"R1"}, nil
	})

	rs, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"R1"}, rs)
}

func TestFailureIsNormalized(t *testing.T) {
	_, err := Call(context.Background(), "read tag", "R1", func(context.Context) (string, error) {
		return "", errBackend
	})

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "read tag", be.Op)
	assert.Equal(t, "R1", be.Reader)
	assert.ErrorIs(t, err, errBackend)
	assert.EqualError(t, err, "read tag (R1): backend failure")
}

func TestStructuredErrorPassesThrough(t *testing.T) {
	orig := &Error{Op: "inner", Err: errBackend}
	_, err := Call(context.Background(), "outer", "", func(context.Context) (int, error) {
		return 0, orig
	})
	assert.Same(t, orig, err)
}

func TestPanicBecomesError(t *testing.T) {
	_, err := Call(context.Background(), "write tag", "R1", func(context.Context) (bool, error) {
		panic("driver crashed")
	})

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Contains(t, err.Error(), "driver crashed")
}

func TestAwaitCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	f := Go(context.Background(), "read tag", "R1", func(context.Context) (string, error) {
		<-release
		return "late", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := f.Await(ctx)
	assert.Empty(t, v)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompletesOnce(t *testing.T) {
	var runs atomic.Int32
	f := Go(context.Background(), "op", "", func(context.Context) (int, error) {
		runs.Add(1)
		return 42, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.Await(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	wg.Wait()

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("future never completed")
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestConcurrentCallsAreIndependent(t *testing.T) {
	gate := make(chan struct{})
	slow := Go(context.Background(), "slow", "", func(context.Context) (string, error) {
		<-gate
		return "slow", nil
	})
	fast := Go(context.Background(), "fast", "", func(context.Context) (string, error) {
		return "fast", nil
	})

	v, err := fast.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fast", v)

	close(gate)
	v, err = slow.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "slow", v)
}
