package wallet

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"testing"

	"github.com/kasware/kaswalletd/internal/events"
	"github.com/kasware/kaswalletd/internal/keys"
	"github.com/kasware/kaswalletd/internal/rpcclient"
	"github.com/kasware/kaswalletd/internal/types"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// mockRpcClient is an in-memory node double. Connect fires the connect
// callbacks synchronously; notifications are pushed by tests through the
// captured subscription callbacks.
type mockRpcClient struct {
	mu sync.Mutex

	onConnect    []func()
	onDisconnect []func()
	connected    bool

	utxosByAddress map[string][]*types.RpcUtxosByAddressesEntry
	blueScore      uint64

	submitted  []*types.RpcTransaction
	submitErr  error
	submitTxid string

	getUtxosCalls [][]string

	utxosChangedCb func(*types.UtxosChangedNotification)
	blueScoreCb    func(uint64)
	blockAddedCb   func(*types.BlockAddedNotification)

	unsubscribed []string
}

var _ rpcclient.Client = (*mockRpcClient)(nil)

func newMockRpcClient() *mockRpcClient {
	return &mockRpcClient{
		utxosByAddress: make(map[string][]*types.RpcUtxosByAddressesEntry),
		submitTxid:     "mock-txid",
	}
}

func (m *mockRpcClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = true
	cbs := append([]func(){}, m.onConnect...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return nil
}

func (m *mockRpcClient) Disconnect() error {
	m.mu.Lock()
	m.connected = false
	cbs := append([]func(){}, m.onDisconnect...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return nil
}

func (m *mockRpcClient) OnConnect(cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = append(m.onConnect, cb)
}

func (m *mockRpcClient) OnDisconnect(cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = append(m.onDisconnect, cb)
}

func (m *mockRpcClient) GetBlock(ctx context.Context, hash string) (*types.RpcBlock, error) {
	return &types.RpcBlock{Hash: hash}, nil
}

func (m *mockRpcClient) GetUtxosByAddresses(ctx context.Context, addresses []string) ([]*types.RpcUtxosByAddressesEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getUtxosCalls = append(m.getUtxosCalls, append([]string{}, addresses...))
	var out []*types.RpcUtxosByAddressesEntry
	for _, address := range addresses {
		out = append(out, m.utxosByAddress[address]...)
	}
	return out, nil
}

func (m *mockRpcClient) SubmitTransaction(ctx context.Context, tx *types.RpcTransaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.submitted = append(m.submitted, tx)
	return m.submitTxid, nil
}

func (m *mockRpcClient) GetVirtualSelectedParentBlueScore(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blueScore, nil
}

func (m *mockRpcClient) ackedHandle() *rpcclient.SubHandle {
	h := rpcclient.NewSubHandle()
	h.Resolve(nil)
	return h
}

func (m *mockRpcClient) SubscribeBlockAdded(cb func(*types.BlockAddedNotification)) (*rpcclient.SubHandle, error) {
	m.mu.Lock()
	m.blockAddedCb = cb
	m.mu.Unlock()
	return m.ackedHandle(), nil
}

func (m *mockRpcClient) SubscribeVirtualSelectedParentBlueScoreChanged(cb func(uint64)) (*rpcclient.SubHandle, error) {
	m.mu.Lock()
	m.blueScoreCb = cb
	m.mu.Unlock()
	return m.ackedHandle(), nil
}

func (m *mockRpcClient) SubscribeUtxosChanged(addresses []string, cb func(*types.UtxosChangedNotification)) (*rpcclient.SubHandle, error) {
	m.mu.Lock()
	m.utxosChangedCb = cb
	m.mu.Unlock()
	return m.ackedHandle(), nil
}

func (m *mockRpcClient) SubscribeChainChanged(cb func(*types.ChainChangedNotification)) (*rpcclient.SubHandle, error) {
	return m.ackedHandle(), nil
}

func (m *mockRpcClient) Unsubscribe(event string, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, event+":"+uid)
	return nil
}

func (m *mockRpcClient) UnsubscribeUtxosChanged(uid string) error {
	return m.Unsubscribe(rpcclient.EventUtxosChanged, uid)
}

// newTestWallet builds an ephemeral wallet on kaspatest with a mock node.
func newTestWallet(t *testing.T) (*Wallet, *mockRpcClient, *events.EventBus) {
	t.Helper()
	root, err := keys.NewHDRoot(testMnemonic, "")
	require.NoError(t, err)

	mock := newMockRpcClient()
	bus := events.NewEventBus()
	w, err := New(root, mock, bus, nil, Options{
		Network:    "kaspatest",
		GapLimit:   5,
		FeePerByte: 1,
	})
	require.NoError(t, err)
	return w, mock, bus
}

func testTxid(b byte) string {
	return strings.Repeat(hex.EncodeToString([]byte{b}), 32)
}

// testUtxo builds a non-coinbase unspent output for a wallet address, born
// at the given block blue score.
func testUtxo(t *testing.T, address string, txidByte byte, index uint32, amount, blueScore uint64) *types.UnspentOutput {
	t.Helper()
	op, err := types.NewOutpoint(testTxid(txidByte), index)
	require.NoError(t, err)
	script, err := keys.PayToAddrScript(address)
	require.NoError(t, err)
	return &types.UnspentOutput{
		Outpoint:       *op,
		Address:        address,
		Satoshis:       amount,
		ScriptPubKey:   script,
		BlockBlueScore: blueScore,
	}
}

func rpcEntryFor(u *types.UnspentOutput) *types.RpcUtxosByAddressesEntry {
	return &types.RpcUtxosByAddressesEntry{
		Address: u.Address,
		Outpoint: types.RpcOutpoint{
			TransactionID: u.Outpoint.TxID.String(),
			Index:         u.Outpoint.Index,
		},
		UtxoEntry: &types.RpcUtxoEntry{
			Amount: u.Satoshis,
			ScriptPublicKey: types.RpcScriptPublicKey{
				Version:         0,
				ScriptPublicKey: hex.EncodeToString(u.ScriptPubKey),
			},
			BlockBlueScore: u.BlockBlueScore,
			IsCoinbase:     u.IsCoinbase,
		},
	}
}

func scriptHex(script []byte) string {
	return hex.EncodeToString(script)
}

// probeAddress derives (without reserving) an address on a chain.
func probeAddress(t *testing.T, w *Wallet, kind AddressKind, index uint32) string {
	t.Helper()
	addrs, err := w.addrMgr.GetAddresses(index+1, kind, 0)
	require.NoError(t, err)
	return addrs[index].Address
}

// foreignAddress derives an address outside the wallet's chains.
func foreignAddress(t *testing.T, w *Wallet) string {
	t.Helper()
	other, err := keys.NewHDRoot("legal winner thank year wave sausage worth useful legal winner thank yellow", "")
	require.NoError(t, err)
	key, err := other.DeriveKey(keys.ChainReceive, 0)
	require.NoError(t, err)
	return key.Address(w.net.Prefix)
}
