package headless

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// launchRecorder is a browser-free launchFunc that hands out plain cancelable
// contexts and counts how often it ran.
type launchRecorder struct {
	mu      sync.Mutex
	count   int
	killers []context.CancelFunc
	err     error
}

func (l *launchRecorder) launch(allocCtx context.Context) (context.Context, context.CancelFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, nil, l.err
	}
	l.count++
	ctx, cancel := context.WithCancel(allocCtx)
	l.killers = append(l.killers, cancel)
	return ctx, cancel, nil
}

func (l *launchRecorder) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *launchRecorder) killLatest() {
	l.mu.Lock()
	cancel := l.killers[len(l.killers)-1]
	l.mu.Unlock()
	cancel()
}

func newStubbedPool(t *testing.T) (*BrowserPool, *launchRecorder) {
	t.Helper()
	pool := NewBrowserPool(PoolConfig{Headless: true}, nil)
	rec := &launchRecorder{}
	pool.launch = rec.launch
	t.Cleanup(func() { _ = pool.Shutdown() })
	return pool, rec
}

func TestBrowserPoolLaunchesLazily(t *testing.T) {
	t.Parallel()

	pool, rec := newStubbedPool(t)
	if rec.launches() != 0 {
		t.Fatal("pool must not launch before the first Acquire")
	}

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if rec.launches() != 1 {
		t.Fatalf("expected one launch for a healthy browser, got %d", rec.launches())
	}
	if first != second {
		t.Fatal("expected the same browser context while healthy")
	}
}

func TestBrowserPoolRelaunchesDeadBrowser(t *testing.T) {
	t.Parallel()

	pool, rec := newStubbedPool(t)
	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	rec.killLatest()
	if first.Err() == nil {
		t.Fatal("test setup: browser context should be dead")
	}

	replacement, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after death: %v", err)
	}
	if replacement.Err() != nil {
		t.Fatal("expected a healthy replacement context")
	}
	if rec.launches() != 2 {
		t.Fatalf("expected exactly one relaunch, got %d launches", rec.launches())
	}
}

func TestBrowserPoolRelaunchesOnceUnderContention(t *testing.T) {
	t.Parallel()

	pool, rec := newStubbedPool(t)
	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	rec.killLatest()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Acquire(context.Background()); err != nil {
				t.Errorf("concurrent Acquire: %v", err)
			}
		}()
	}
	wg.Wait()

	if rec.launches() != 2 {
		t.Fatalf("a crash burst must trigger one relaunch, got %d launches", rec.launches())
	}
}

func TestBrowserPoolLaunchFailure(t *testing.T) {
	t.Parallel()

	pool, rec := newStubbedPool(t)
	rec.err = errors.New("chrome executable not found")

	if _, err := pool.Acquire(context.Background()); err == nil || !errors.Is(err, rec.err) {
		t.Fatalf("expected the launch error surfaced, got %v", err)
	}
}

func TestBrowserPoolShutdown(t *testing.T) {
	t.Parallel()

	pool, rec := newStubbedPool(t)
	browserCtx, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := pool.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if browserCtx.Err() == nil {
		t.Fatal("shutdown must cancel the live browser context")
	}
	if err := pool.Shutdown(); err != nil {
		t.Fatalf("second Shutdown must be a no-op, got %v", err)
	}
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrBrowserClosed) {
		t.Fatalf("expected ErrBrowserClosed after shutdown, got %v", err)
	}
	if rec.launches() != 1 {
		t.Fatalf("no relaunch after shutdown, got %d launches", rec.launches())
	}
}

func TestBrowserPoolAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	pool, rec := newStubbedPool(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pool.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if rec.launches() != 0 {
		t.Fatal("a canceled Acquire must not launch")
	}
}
