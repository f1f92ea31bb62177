// Package rpcclient defines the node RPC surface the wallet consumes.
// The transport itself lives outside this repository; implementations
// register themselves like database/sql drivers and are selected at startup.
package rpcclient

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kasware/kaswalletd/internal/types"
)

// Subscription event names used with Unsubscribe.
const (
	EventBlockAdded       = "blockAdded"
	EventBlueScoreChanged = "virtualSelectedParentBlueScoreChanged"
	EventUtxosChanged     = "utxosChanged"
	EventChainChanged     = "chainChanged"
)

// Client is the node interface. Request/response methods block until the
// server answers; Subscribe methods return a handle that resolves on the
// server ack and carries the uid used to cancel the stream later.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	OnConnect(cb func())
	OnDisconnect(cb func())

	GetBlock(ctx context.Context, hash string) (*types.RpcBlock, error)
	GetUtxosByAddresses(ctx context.Context, addresses []string) ([]*types.RpcUtxosByAddressesEntry, error)
	SubmitTransaction(ctx context.Context, tx *types.RpcTransaction) (string, error)
	GetVirtualSelectedParentBlueScore(ctx context.Context) (uint64, error)

	SubscribeBlockAdded(cb func(*types.BlockAddedNotification)) (*SubHandle, error)
	SubscribeVirtualSelectedParentBlueScoreChanged(cb func(uint64)) (*SubHandle, error)
	SubscribeUtxosChanged(addresses []string, cb func(*types.UtxosChangedNotification)) (*SubHandle, error)
	SubscribeChainChanged(cb func(*types.ChainChangedNotification)) (*SubHandle, error)

	Unsubscribe(event string, uid string) error
	UnsubscribeUtxosChanged(uid string) error
}

// SubHandle identifies one server-side subscription. Wait blocks until the
// server acks the registration; Uid cancels it later without tearing down
// the transport.
type SubHandle struct {
	Uid string

	ack  chan error
	once sync.Once
}

// NewSubHandle allocates a handle with a fresh uid. Transports call Resolve
// exactly once when the server acks or rejects the subscription.
func NewSubHandle() *SubHandle {
	return &SubHandle{
		Uid: uuid.New().String(),
		ack: make(chan error, 1),
	}
}

// Resolve delivers the server ack. Extra calls are ignored.
func (h *SubHandle) Resolve(err error) {
	h.once.Do(func() {
		h.ack <- err
		close(h.ack)
	})
}

// Wait blocks until the subscription is acked or the context ends.
func (h *SubHandle) Wait(ctx context.Context) error {
	select {
	case err := <-h.ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Factory builds a Client for a node address.
type Factory func(address string) (Client, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a transport available under a name. It panics on a
// duplicate name, mirroring database/sql driver registration.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if factory == nil {
		panic("rpcclient: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("rpcclient: Register called twice for transport " + name)
	}
	factories[name] = factory
}

// Open builds a client using the named transport.
func Open(transport, address string) (Client, error) {
	factoriesMu.RLock()
	factory, ok := factories[transport]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rpcclient: unknown transport %q (registered: %v)", transport, registeredNames())
	}
	return factory(address)
}

func registeredNames() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
