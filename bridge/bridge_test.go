package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultName(t *testing.T) {
	assert.Equal(t, DefaultName, New("").Name())
	assert.Equal(t, "Custom", New("Custom").Name())
}

func TestHandler_JoinsArguments(t *testing.T) {
	b := New("")

	require.NoError(t, b.Handler()([]string{"hello", "world"}))
	require.NoError(t, b.Handler()(nil))

	assert.Equal(t, []string{"hello world", ""}, b.Messages())
	assert.Equal(t, 2, b.Len())
}

func TestWait_SignalBeforeWaitIsKept(t *testing.T) {
	b := New("")
	b.Post("early")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))

	// the signal was consumed
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	assert.ErrorIs(t, b.Wait(short), context.DeadlineExceeded)
}

func TestWait_ReleasedByLaterMessage(t *testing.T) {
	b := New("")
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Post("late")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
	assert.Equal(t, []string{"late"}, b.Messages())
}

// TestPost_GlobalArrivalOrder
// Given: several goroutines posting to one bridge
// When: each posts its own sequence
// Then: the log holds every message and each sender's messages keep their order
func TestPost_GlobalArrivalOrder(t *testing.T) {
	// Arrange
	b := New("")
	const senders, perSender = 4, 50

	// Act
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				b.Post(fmt.Sprintf("%d:%d", s, i))
			}
		}(s)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.WaitForCount(ctx, senders*perSender))
	wg.Wait()

	// Assert
	next := make([]int, senders)
	for _, m := range b.Messages() {
		var s, i int
		_, err := fmt.Sscanf(m, "%d:%d", &s, &i)
		require.NoError(t, err)
		assert.Equal(t, next[s], i, "sender %d out of order", s)
		next[s]++
	}
}

func TestWaitForCount_ContextDone(t *testing.T) {
	b := New("")
	b.Post("one")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.WaitForCount(ctx, 2), context.DeadlineExceeded)
}

func TestObserver_SeesSequenceNumbers(t *testing.T) {
	b := New("Log")
	var got []string
	b.AddObserver(ObserverFunc(func(name string, seq int, payload string) {
		got = append(got, fmt.Sprintf("%s#%d=%s", name, seq, payload))
	}))

	b.Post("a")
	b.Post("b")

	assert.Equal(t, []string{"Log#1=a", "Log#2=b"}, got)
}

func TestReset_ClearsLogAndSignal(t *testing.T) {
	b := New("")
	b.Post("x")
	b.Reset()

	assert.Zero(t, b.Len())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, b.Wait(ctx))
}
