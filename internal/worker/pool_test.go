package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWorker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Worker Suite")
}

var _ = Describe("Pool", func() {
	var pool *Pool

	AfterEach(func() {
		pool.Close()
	})

	When("created with no worker count", func() {
		BeforeEach(func() {
			pool = NewPool(0)
		})

		It("should default to at least one worker", func() {
			Expect(pool.Workers()).To(BeNumerically(">=", 1))
		})
	})

	When("jobs are submitted", func() {
		BeforeEach(func() {
			pool = NewPool(3)
			pool.Start()
		})

		It("should run every job before Wait returns", func() {
			var counter atomic.Int32
			for i := 0; i < 20; i++ {
				Expect(pool.Submit(context.Background(), func() {
					counter.Add(1)
				})).To(Succeed())
			}
			pool.Wait()
			Expect(counter.Load()).To(Equal(int32(20)))
		})

		It("should run jobs concurrently", func() {
			var (
				mu      sync.Mutex
				running int
				peak    int
				release = make(chan struct{})
			)
			for i := 0; i < 3; i++ {
				Expect(pool.Submit(context.Background(), func() {
					mu.Lock()
					running++
					peak = max(peak, running)
					mu.Unlock()
					<-release
					mu.Lock()
					running--
					mu.Unlock()
				})).To(Succeed())
			}
			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()
				return peak
			}).Should(Equal(3))
			close(release)
			pool.Wait()
		})

		It("should tolerate a second Start", func() {
			pool.Start()
			Expect(pool.Submit(context.Background(), func() {})).To(Succeed())
			pool.Wait()
		})
	})

	When("the queue is full", func() {
		var release chan struct{}

		BeforeEach(func() {
			pool = NewPool(1)
			pool.Start()
			release = make(chan struct{})
			// one running job plus a full queue of two
			for i := 0; i < 3; i++ {
				Expect(pool.Submit(context.Background(), func() { <-release })).To(Succeed())
			}
		})

		AfterEach(func() {
			close(release)
			pool.Wait()
		})

		It("should give up when the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			Expect(pool.Submit(ctx, func() {})).To(MatchError(context.DeadlineExceeded))
		})
	})

	When("the pool is closed", func() {
		BeforeEach(func() {
			pool = NewPool(1)
			pool.Start()
			pool.Close()
		})

		It("should reject new jobs", func() {
			Expect(pool.Submit(context.Background(), func() {})).To(MatchError(ErrClosed))
		})
	})
})
