package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunnerOrder(t *testing.T) {
	r := NewRunner("test")
	require.Equal(t, "test", r.Name())

	var got []int
	reposted := make(chan struct{})
	for i := 0; i < 3; i++ {
		i := i
		require.True(t, r.Post(func() {
			got = append(got, i)
			if i == 0 {
				// queued after already posted tasks
				r.Post(func() { got = append(got, 10) })
				close(reposted)
			}
		}))
	}

	<-reposted
	r.Stop()
	<-r.Done()

	require.Equal(t, []int{0, 1, 2, 10}, got)
	require.False(t, r.IsRunning())
	require.False(t, r.Post(func() {}))
}

func TestRunnerStopDrain(t *testing.T) {
	r := NewRunner("test")

	block := make(chan struct{})
	var n int

	r.Post(func() { <-block })
	r.Post(func() { n++ })
	r.Post(func() { n++ })

	// stop does not wait for queued tasks
	r.Stop()
	require.True(t, r.IsRunning())
	require.False(t, r.Post(func() { n++ }))

	close(block)
	<-r.Done()

	require.Equal(t, 2, n)

	// second stop is safe
	r.Stop()
}

func TestWaiter(t *testing.T) {
	var w Waiter
	errTest := errors.New("test")

	ch := make(chan error)
	go func() {
		ch <- w.Wait()
	}()

	time.Sleep(10 * time.Millisecond)
	w.Done(errTest)
	require.Equal(t, errTest, <-ch)

	// safe after finish
	w.Done(nil)
	require.Equal(t, errTest, w.Wait())
}

func TestWaiterDoneBeforeWait(t *testing.T) {
	var w Waiter

	w.Done(nil)
	require.Nil(t, w.Wait())
}
