package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransaction(t *testing.T) *Transaction {
	t.Helper()
	op, err := NewOutpoint("1a4ecdb32ca38287e862de3d7e21e551a0d76645d72cb7229058600b7a817553", 0)
	require.NoError(t, err)
	script := make([]byte, 34)
	script[0] = 0x20
	script[33] = 0xac
	return &Transaction{
		Version: TxVersion,
		Inputs: []*TxInput{
			{PreviousOutpoint: *op, Sequence: ^uint64(0)},
		},
		Outputs: []*TxOutput{
			{Value: 7_000, ScriptPubKey: script},
			{Value: 2_500, ScriptPubKey: script},
		},
		SubnetworkID: SubnetworkIDNative,
		Fee:          500,
	}
}

func TestSerializedSizeMatchesSerialize(t *testing.T) {
	tx := testTransaction(t)
	assert.Equal(t, tx.SerializedSize(), len(tx.Serialize()))

	tx.Inputs[0].SignatureScript = make([]byte, SignatureScriptAllSize)
	assert.Equal(t, tx.SerializedSize(), len(tx.Serialize()))
}

func TestTransactionIDStableAcrossSigning(t *testing.T) {
	tx := testTransaction(t)
	before := tx.ID()

	tx.Inputs[0].SignatureScript = make([]byte, SignatureScriptAllSize)
	after := tx.ID()

	assert.Equal(t, before, after)
}

func TestSignatureHashCommitsToInput(t *testing.T) {
	tx := testTransaction(t)
	scriptA := []byte{0x20, 0x01, 0xac}
	scriptB := []byte{0x20, 0x02, 0xac}

	assert.NotEqual(t, tx.CalcSignatureHash(0, scriptA), tx.CalcSignatureHash(0, scriptB))

	// Changing an output changes every digest.
	h := tx.CalcSignatureHash(0, scriptA)
	tx.Outputs[0].Value++
	assert.NotEqual(t, h, tx.CalcSignatureHash(0, scriptA))
}

func TestToRpcTransactionWireShape(t *testing.T) {
	tx := testTransaction(t)
	tx.Inputs[0].SignatureScript = []byte{0x41, 0x01, 0x02}

	rpcTx := tx.ToRpcTransaction()
	assert.Equal(t, strings.Repeat("0", 40), rpcTx.SubnetworkID)
	assert.Equal(t, strings.Repeat("0", 64), rpcTx.PayloadHash)
	assert.Equal(t, uint64(500), rpcTx.Fee)
	require.Len(t, rpcTx.Inputs, 1)
	assert.Equal(t, "410102", rpcTx.Inputs[0].SignatureScript)
	assert.Equal(t, "1a4ecdb32ca38287e862de3d7e21e551a0d76645d72cb7229058600b7a817553",
		rpcTx.Inputs[0].PreviousOutpoint.TransactionID)
	require.Len(t, rpcTx.Outputs, 2)
	assert.Equal(t, uint16(0), rpcTx.Outputs[0].ScriptPublicKey.Version)
	assert.Equal(t, uint64(7_000), rpcTx.Outputs[0].Amount)
}

func TestMassExceedsSerializedSize(t *testing.T) {
	tx := testTransaction(t)
	assert.Greater(t, tx.Mass(), uint64(tx.SerializedSize()))
}
