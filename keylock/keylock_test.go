package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"golang.org/x/sync/errgroup"
)

func TestRegistry(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("same key is mutually exclusive", func(c *qt.C) {
		r := New(4)

		var inside int32
		var max int32
		var counter int

		g, ctx := errgroup.WithContext(ctx)
		for i := 0; i < 50; i++ {
			g.Go(func() error {
				h, err := r.Acquire(ctx, "submission:1")
				if err != nil {
					return err
				}
				defer h.Release()

				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&max)
					if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
						break
					}
				}
				counter++
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}

		c.Assert(g.Wait(), qt.IsNil)
		c.Assert(counter, qt.Equals, 50)
		c.Assert(atomic.LoadInt32(&max), qt.Equals, int32(1))
		c.Assert(r.Len(), qt.Equals, 0)
	})

	c.Run("distinct keys do not block each other", func(c *qt.C) {
		r := New(1)

		h1, err := r.Acquire(ctx, "submission:1")
		c.Assert(err, qt.IsNil)
		defer h1.Release()

		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		h2, err := r.Acquire(ctx, "comment:1")
		c.Assert(err, qt.IsNil)
		h2.Release()
	})

	c.Run("cancellation while queued", func(c *qt.C) {
		r := New(4)

		h, err := r.Acquire(ctx, "submission:7")
		c.Assert(err, qt.IsNil)

		ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err = r.Acquire(ctx, "submission:7")
		c.Assert(errors.Is(err, context.DeadlineExceeded), qt.IsTrue)

		// the cancelled waiter left, only the holder remains
		c.Assert(r.Len(), qt.Equals, 1)
		h.Release()
		c.Assert(r.Len(), qt.Equals, 0)

		h, err = r.Acquire(context.Background(), "submission:7")
		c.Assert(err, qt.IsNil)
		h.Release()
	})

	c.Run("already cancelled context", func(c *qt.C) {
		r := New(4)

		ctx, cancel := context.WithCancel(ctx)
		cancel()

		h, err := r.Acquire(ctx, "submission:3")
		c.Assert(err, qt.ErrorIs, context.Canceled)
		c.Assert(h, qt.IsNil)
		c.Assert(r.Len(), qt.Equals, 0)
	})

	c.Run("entries are reclaimed", func(c *qt.C) {
		r := New(8)

		var wg sync.WaitGroup
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				h, err := r.Acquire(ctx, fmt.Sprintf("comment:%d", i%37))
				if err != nil {
					return
				}
				h.Release()
			}(i)
		}
		wg.Wait()

		c.Assert(r.Len(), qt.Equals, 0)
	})

	c.Run("release is idempotent", func(c *qt.C) {
		r := New(4)

		h, err := r.Acquire(ctx, "submission:9")
		c.Assert(err, qt.IsNil)
		h.Release()
		h.Release()

		h1 := r.TryAcquire("submission:9")
		c.Assert(h1, qt.IsNotNil)
		c.Assert(r.TryAcquire("submission:9"), qt.IsNil)
		h1.Release()
		c.Assert(r.Len(), qt.Equals, 0)
	})
}
