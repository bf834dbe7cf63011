package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerPool(t *testing.T) {
	assert := assert.New(t)

	t.Run("Get and Put", func(t *testing.T) {
		timer1 := GetTimer(1 * time.Second)
		assert.NotNil(timer1)

		PutTimer(timer1)

		timer2 := GetTimer(20 * time.Millisecond)
		assert.NotNil(timer2)

		<-timer2.C
	})

	t.Run("Put Active Timer", func(t *testing.T) {
		timer1 := GetTimer(100 * time.Millisecond)
		assert.NotNil(timer1)

		time.Sleep(50 * time.Millisecond)

		PutTimer(timer1)

		begin := time.Now()
		timer2 := GetTimer(300 * time.Millisecond)

		select {
		case tt := <-timer2.C:
			if tt.Sub(begin) < 270*time.Millisecond {
				t.Error("timer2 should fire after 300ms")
			}
		case <-time.After(400 * time.Millisecond):
			t.Error("timer2 should have fired within 400ms")
		}
	})

	t.Run("Concurrency", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				timer := GetTimer(10 * time.Millisecond)
				defer PutTimer(timer)
				<-timer.C
			}()
		}
		wg.Wait()
	})
}

func TestSleep(t *testing.T) {
	assert := assert.New(t)

	begin := time.Now()
	assert.NoError(Sleep(context.Background(), 30*time.Millisecond))
	assert.GreaterOrEqual(time.Since(begin), 30*time.Millisecond)

	assert.NoError(Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(Sleep(ctx, time.Second), context.Canceled)
}

func TestUntil(t *testing.T) {
	assert := assert.New(t)

	_, ok := Until(time.Time{})
	assert.False(ok)

	remaining, ok := Until(time.Now().Add(time.Second))
	assert.True(ok)
	assert.Greater(remaining, 900*time.Millisecond)
}
