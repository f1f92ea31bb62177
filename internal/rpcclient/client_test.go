package rpcclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubHandleResolve(t *testing.T) {
	h := NewSubHandle()
	assert.NotEmpty(t, h.Uid)

	go h.Resolve(nil)
	require.NoError(t, h.Wait(context.Background()))
}

func TestSubHandleResolveError(t *testing.T) {
	h := NewSubHandle()
	serverErr := errors.New("server rejected subscription")
	h.Resolve(serverErr)
	// Extra resolves are ignored.
	h.Resolve(nil)

	assert.ErrorIs(t, h.Wait(context.Background()), serverErr)
}

func TestSubHandleWaitHonorsContext(t *testing.T) {
	h := NewSubHandle()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
}

func TestSubHandleUidsAreUnique(t *testing.T) {
	a := NewSubHandle()
	b := NewSubHandle()
	assert.NotEqual(t, a.Uid, b.Uid)
}

func TestTransportRegistry(t *testing.T) {
	_, err := Open("no-such-transport", "localhost:16210")
	require.Error(t, err)

	Register("test-transport", func(address string) (Client, error) {
		return nil, errors.New("dial " + address)
	})

	_, err = Open("test-transport", "localhost:16210")
	assert.EqualError(t, err, "dial localhost:16210")

	assert.Panics(t, func() {
		Register("test-transport", func(string) (Client, error) { return nil, nil })
	})
}
