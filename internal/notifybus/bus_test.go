package notifybus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitWakesOnEmit(t *testing.T) {
	b := New()
	done := make(chan bool, 1)
	go func() {
		timeout := time.After(time.Second)
		done <- b.Wait(context.Background(), "r1", timeout)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Emit("r1")

	select {
	case woke := <-done:
		assert.True(t, woke)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after emit")
	}
}

func TestWaitTimesOut(t *testing.T) {
	b := New()
	woke := b.Wait(context.Background(), "r1", time.After(10*time.Millisecond))
	assert.False(t, woke)
}

func TestEmitBeforeWaitIsNotLost(t *testing.T) {
	b := New()
	b.Emit("r1")

	done := make(chan bool, 1)
	go func() {
		done <- b.Wait(context.Background(), "r1", time.After(time.Second))
	}()

	select {
	case woke := <-done:
		assert.True(t, woke)
	case <-time.After(time.Second):
		t.Fatal("wait missed the emit that preceded it")
	}
}

func TestCleanupRemovesLatch(t *testing.T) {
	b := New()
	b.Emit("r1")
	b.Cleanup("r1")
	assert.NotContains(t, b.latches, "r1")
}
