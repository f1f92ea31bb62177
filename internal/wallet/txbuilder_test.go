package wallet

import (
	"context"
	"testing"

	"github.com/kasware/kaswalletd/internal/events"
	"github.com/kasware/kaswalletd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fundWallet seeds the wallet with mature confirmed outputs on its first
// receive address and pins the blue score.
func fundWallet(t *testing.T, w *Wallet, amounts ...uint64) []*types.UnspentOutput {
	t.Helper()
	address := probeAddress(t, w, AddressKindReceive, 0)
	var utxos []*types.UnspentOutput
	for i, amount := range amounts {
		utxos = append(utxos, testUtxo(t, address, byte(i+1), 0, amount, 1))
	}
	w.mu.Lock()
	w.blueScore = 1_000_000
	w.utxoSet.Add(utxos, w.blueScore)
	w.mu.Unlock()
	return utxos
}

func txInputSum(c *ComposedTx) uint64 {
	var sum uint64
	for _, u := range c.Utxos {
		sum += u.Satoshis
	}
	return sum
}

func txOutputSum(c *ComposedTx) uint64 {
	var sum uint64
	for _, out := range c.Tx.Outputs {
		sum += out.Value
	}
	return sum
}

func TestSimpleSend(t *testing.T) {
	w, _, _ := newTestWallet(t)
	utxos := fundWallet(t, w, 10_000, 5_000)

	p := NewSendParams(foreignAddress(t, w), 7_000)
	p.Fee = 500

	c, err := w.BuildTransaction(p)
	require.NoError(t, err)

	// The 10k output alone covers amount plus fee.
	require.Len(t, c.Utxos, 1)
	assert.Equal(t, utxos[0].ID(), c.UtxoIds[0])

	require.Len(t, c.Tx.Outputs, 2)
	assert.Equal(t, uint64(7_000), c.Tx.Outputs[0].Value)
	assert.Equal(t, uint64(10_000)-7_000-c.Fee, c.Tx.Outputs[1].Value)

	// The final fee covers the serialized size plus the priority fee.
	assert.Equal(t, c.Fee, c.DataFee+500)
	assert.GreaterOrEqual(t, c.Fee, uint64(c.Tx.SerializedSize())+500)

	// Sum of inputs equals sum of outputs plus fee.
	assert.Equal(t, txInputSum(c), txOutputSum(c)+c.Fee)

	assert.True(t, c.Signed)
	for _, in := range c.Tx.Inputs {
		assert.Len(t, in.SignatureScript, types.SignatureScriptAllSize)
	}
}

func TestSendInsufficientFunds(t *testing.T) {
	w, _, _ := newTestWallet(t)
	fundWallet(t, w, 1_000)

	before := w.addrMgr.Counter(AddressKindChange)

	p := NewSendParams(foreignAddress(t, w), 2_000)
	_, err := w.BuildTransaction(p)

	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, uint64(1_000), insufficient.Available)

	// The change index is not burned by a failed build.
	assert.Equal(t, before, w.addrMgr.Counter(AddressKindChange))
}

func TestFeeConvergence(t *testing.T) {
	w, _, _ := newTestWallet(t)
	amounts := make([]uint64, 200)
	for i := range amounts {
		amounts[i] = 600
	}
	address := probeAddress(t, w, AddressKindReceive, 0)
	var utxos []*types.UnspentOutput
	for i, amount := range amounts {
		utxos = append(utxos, testUtxo(t, address, byte(i%250+1), uint32(i/250), amount, 1))
	}
	// Distinct outpoints per utxo.
	for i := range utxos {
		utxos[i].Outpoint.Index = uint32(i)
	}
	w.mu.Lock()
	w.blueScore = 1_000_000
	w.utxoSet.Add(utxos, w.blueScore)
	w.mu.Unlock()

	p := NewSendParams(foreignAddress(t, w), 50_000)
	p.Fee = 250

	c, err := w.EstimateTransaction(p)
	require.NoError(t, err)

	size := c.Tx.SerializedSize() + types.UnsignedInputPadBytes*len(c.Tx.Inputs)
	assert.GreaterOrEqual(t, c.Fee, uint64(size)+250)
	assert.Equal(t, txInputSum(c), txOutputSum(c)+c.Fee)
}

func TestFeeConvergenceAnnouncesChangeOnce(t *testing.T) {
	w, _, bus := newTestWallet(t)
	amounts := make([]uint64, 200)
	for i := range amounts {
		amounts[i] = 600
	}
	address := probeAddress(t, w, AddressKindReceive, 0)
	var utxos []*types.UnspentOutput
	for i, amount := range amounts {
		u := testUtxo(t, address, byte(i%250+1), uint32(i), amount, 1)
		utxos = append(utxos, u)
	}
	w.mu.Lock()
	w.blueScore = 1_000_000
	w.utxoSet.Add(utxos, w.blueScore)
	w.mu.Unlock()

	fresh := bus.Subscribe(events.NewAddress, 16)

	p := NewSendParams(foreignAddress(t, w), 50_000)
	p.Fee = 250
	_, err := w.EstimateTransaction(p)
	require.NoError(t, err)

	// The loop reverses and re-derives the same change index on every
	// pass; only the first derivation announces it.
	require.Len(t, fresh.C, 1)
	ev := (<-fresh.C).(*NewAddressEvent)
	assert.Equal(t, AddressKindChange, ev.Kind)
}

func TestInclusiveFee(t *testing.T) {
	w, _, _ := newTestWallet(t)
	fundWallet(t, w, 50_000)

	p := NewSendParams(foreignAddress(t, w), 10_000)
	p.Fee = 100
	p.InclusiveFee = true

	c, err := w.BuildTransaction(p)
	require.NoError(t, err)

	// The recipient output is the amount minus the whole fee; the sender
	// side consumes exactly the requested amount.
	assert.Equal(t, uint64(10_000)-c.Fee, c.Tx.Outputs[0].Value)
	assert.Equal(t, uint64(10_000), c.Amount+c.Fee)
	assert.Equal(t, txInputSum(c), txOutputSum(c)+c.Fee)
}

func TestDisabledAutoFeeRequiresCoveringPriority(t *testing.T) {
	w, _, _ := newTestWallet(t)
	fundWallet(t, w, 50_000)

	p := NewSendParams(foreignAddress(t, w), 10_000)
	p.CalculateNetworkFee = false
	p.Fee = 1 // far below the data fee

	_, err := w.EstimateTransaction(p)
	var minimum *MinimumFeeError
	require.ErrorAs(t, err, &minimum)
	assert.Greater(t, minimum.Required, uint64(1))

	// A generous priority fee passes without the loop.
	p.Fee = 5_000
	c, err := w.EstimateTransaction(p)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), c.Fee)
}

func TestNetworkFeeMaxBound(t *testing.T) {
	w, _, _ := newTestWallet(t)
	fundWallet(t, w, 50_000)

	p := NewSendParams(foreignAddress(t, w), 10_000)
	p.Fee = 2_000
	p.NetworkFeeMax = 1_000

	_, err := w.EstimateTransaction(p)
	var feeMax *FeeMaxExceededError
	require.ErrorAs(t, err, &feeMax)
	assert.Equal(t, uint64(1_000), feeMax.Max)
}

func TestComposeDeterminism(t *testing.T) {
	w, _, _ := newTestWallet(t)
	fundWallet(t, w, 10_000, 5_000, 3_000)
	changeOverride := probeAddress(t, w, AddressKindChange, 0)

	build := func() []byte {
		p := NewSendParams(foreignAddress(t, w), 7_000)
		p.Fee = 500
		p.ChangeAddrOverride = changeOverride
		p.SkipSign = true
		c, err := w.EstimateTransaction(p)
		require.NoError(t, err)
		return c.Tx.Serialize()
	}

	assert.Equal(t, build(), build())
}

func TestSubmitTransaction(t *testing.T) {
	w, mock, _ := newTestWallet(t)
	fundWallet(t, w, 10_000, 5_000)
	mock.submitTxid = "deadbeef"

	p := NewSendParams(foreignAddress(t, w), 7_000)
	p.Fee = 500

	txid, err := w.SubmitTransaction(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", txid)

	// The consumed outpoint is reserved and moved to used.
	assert.Len(t, w.utxoSet.InUse(), 1)
	assert.Len(t, w.utxoSet.used, 1)

	// The store holds the outgoing record with the wire transaction.
	rec := w.txStore.Get("deadbeef")
	require.NotNil(t, rec)
	assert.Equal(t, TxDirectionOut, rec.Direction)
	assert.Equal(t, uint64(7_000), rec.Amount)
	assert.False(t, rec.SelfTransfer)
	require.NotNil(t, rec.Tx)
	assert.Len(t, rec.Tx.Inputs, 1)

	// A second spend of the full balance now fails selection: the first
	// submit reserved its inputs.
	p2 := NewSendParams(foreignAddress(t, w), 9_000)
	_, err = w.SubmitTransaction(context.Background(), p2)
	var insufficient *InsufficientFundsError
	assert.ErrorAs(t, err, &insufficient)
}

func TestSubmitFailureReleasesReservation(t *testing.T) {
	w, mock, _ := newTestWallet(t)
	fundWallet(t, w, 10_000)
	mock.submitErr = assert.AnError

	p := NewSendParams(foreignAddress(t, w), 7_000)
	_, err := w.SubmitTransaction(context.Background(), p)
	require.Error(t, err)

	assert.Empty(t, w.utxoSet.InUse())
	assert.Empty(t, w.utxoSet.used)
	// The funds are selectable again.
	mock.submitErr = nil
	_, err = w.SubmitTransaction(context.Background(), p)
	assert.NoError(t, err)
}

func TestCompoundUTXOs(t *testing.T) {
	w, mock, _ := newTestWallet(t)
	amounts := make([]uint64, 150)
	for i := range amounts {
		amounts[i] = 10_000
	}
	address := probeAddress(t, w, AddressKindReceive, 0)
	var utxos []*types.UnspentOutput
	for i := range amounts {
		u := testUtxo(t, address, byte(i%200+1), uint32(i), amounts[i], 1)
		utxos = append(utxos, u)
	}
	w.mu.Lock()
	w.blueScore = 1_000_000
	w.utxoSet.Add(utxos, w.blueScore)
	w.mu.Unlock()

	mock.submitTxid = "compound-txid"
	txid, err := w.CompoundUTXOs(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "compound-txid", txid)

	require.Len(t, mock.submitted, 1)
	tx := mock.submitted[0]
	assert.Len(t, tx.Inputs, 100)
	require.Len(t, tx.Outputs, 1)
	// One output carrying the aggregate minus the fee, to a fresh change
	// address.
	assert.Equal(t, uint64(100*10_000)-tx.Fee, tx.Outputs[0].Amount)
	assert.Equal(t, uint32(1), w.addrMgr.Counter(AddressKindChange))

	changeScript := w.addrMgr.Current(AddressKindChange).Key.ScriptPubKey()
	assert.Equal(t, types.RpcScriptPublicKey{
		Version:         0,
		ScriptPublicKey: scriptHex(changeScript),
	}, tx.Outputs[0].ScriptPublicKey)
}

func TestMassLimit(t *testing.T) {
	w, _, _ := newTestWallet(t)
	// Enough tiny outputs that covering the amount needs more input mass
	// than a block accepts.
	count := types.MaxMassUTXOs/estimatedMassPerInput + 10
	address := probeAddress(t, w, AddressKindReceive, 0)
	var utxos []*types.UnspentOutput
	for i := 0; i < count; i++ {
		u := testUtxo(t, address, byte(i%200+1), uint32(i), 1_000, 1)
		utxos = append(utxos, u)
	}
	w.mu.Lock()
	w.blueScore = 1_000_000
	w.utxoSet.Add(utxos, w.blueScore)
	w.mu.Unlock()

	p := NewSendParams(foreignAddress(t, w), uint64(count)*1_000-1_000)
	_, err := w.EstimateTransaction(p)
	var massErr *MassLimitError
	require.ErrorAs(t, err, &massErr)
}
