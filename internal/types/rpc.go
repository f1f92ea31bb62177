package types

import (
	"encoding/hex"
	"fmt"
)

// RPC wire shapes. These mirror the node's JSON schema exactly, the wallet
// submits and receives transactions in this form.

type RpcOutpoint struct {
	TransactionID string `json:"transactionId"`
	Index         uint32 `json:"index"`
}

type RpcTransactionInput struct {
	PreviousOutpoint RpcOutpoint `json:"previousOutpoint"`
	SignatureScript  string      `json:"signatureScript"`
	Sequence         uint64      `json:"sequence"`
}

type RpcScriptPublicKey struct {
	Version         uint16 `json:"version"`
	ScriptPublicKey string `json:"scriptPublicKey"`
}

type RpcTransactionOutput struct {
	Amount          uint64             `json:"amount"`
	ScriptPublicKey RpcScriptPublicKey `json:"scriptPublicKey"`
}

type RpcTransaction struct {
	Version      uint16                  `json:"version"`
	Inputs       []*RpcTransactionInput  `json:"inputs"`
	Outputs      []*RpcTransactionOutput `json:"outputs"`
	LockTime     uint64                  `json:"lockTime"`
	SubnetworkID string                  `json:"subnetworkId"`
	PayloadHash  string                  `json:"payloadHash"`
	Fee          uint64                  `json:"fee"`
}

// RpcUtxoEntry is the node-reported state of an unspent output.
type RpcUtxoEntry struct {
	Amount          uint64             `json:"amount"`
	ScriptPublicKey RpcScriptPublicKey `json:"scriptPublicKey"`
	BlockBlueScore  uint64             `json:"blockBlueScore"`
	IsCoinbase      bool               `json:"isCoinbase"`
}

// RpcUtxosByAddressesEntry pairs an address with one of its outpoints. The
// UtxoEntry is nil in removal notifications.
type RpcUtxosByAddressesEntry struct {
	Address   string        `json:"address"`
	Outpoint  RpcOutpoint   `json:"outpoint"`
	UtxoEntry *RpcUtxoEntry `json:"utxoEntry,omitempty"`
}

// UtxosChangedNotification streams UTXO churn for subscribed addresses.
type UtxosChangedNotification struct {
	Added   []*RpcUtxosByAddressesEntry `json:"added"`
	Removed []*RpcUtxosByAddressesEntry `json:"removed"`
}

// ChainChangedNotification reports virtual chain reorgs.
type ChainChangedNotification struct {
	RemovedChainBlockHashes []string `json:"removedChainBlockHashes"`
	AddedChainBlockHashes   []string `json:"addedChainBlockHashes"`
}

// RpcBlockVerboseTxOutput is the per-output view inside verbose block data.
type RpcBlockVerboseTxOutput struct {
	Index   uint32 `json:"index"`
	Amount  uint64 `json:"amount"`
	Address string `json:"address"`
}

// RpcBlockVerboseTx is the slimmed transaction view inside block
// notifications, enough to recognize transfers touching wallet addresses.
type RpcBlockVerboseTx struct {
	TransactionID string                     `json:"transactionId"`
	Inputs        []*RpcTransactionInput     `json:"inputs"`
	Outputs       []*RpcBlockVerboseTxOutput `json:"outputs"`
}

// RpcBlock is a block header plus its transactions.
type RpcBlock struct {
	Hash         string               `json:"hash"`
	BlueScore    uint64               `json:"blueScore"`
	Transactions []*RpcBlockVerboseTx `json:"transactions"`
}

// BlockAddedNotification streams newly accepted blocks.
type BlockAddedNotification struct {
	Block *RpcBlock `json:"block"`
}

// UnspentOutputFromEntry converts a node-reported entry into the wallet
// UTXO model.
func UnspentOutputFromEntry(entry *RpcUtxosByAddressesEntry) (*UnspentOutput, error) {
	if entry.UtxoEntry == nil {
		return nil, fmt.Errorf("utxo entry missing for outpoint %s:%d",
			entry.Outpoint.TransactionID, entry.Outpoint.Index)
	}
	outpoint, err := NewOutpoint(entry.Outpoint.TransactionID, entry.Outpoint.Index)
	if err != nil {
		return nil, err
	}
	script, err := hex.DecodeString(entry.UtxoEntry.ScriptPublicKey.ScriptPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid script public key for %s: %w", outpoint, err)
	}
	return &UnspentOutput{
		Outpoint:       *outpoint,
		Address:        entry.Address,
		Satoshis:       entry.UtxoEntry.Amount,
		ScriptPubKey:   script,
		BlockBlueScore: entry.UtxoEntry.BlockBlueScore,
		IsCoinbase:     entry.UtxoEntry.IsCoinbase,
	}, nil
}

// ToRpcTransaction converts a wallet transaction to the submission wire shape.
func (tx *Transaction) ToRpcTransaction() *RpcTransaction {
	rpcTx := &RpcTransaction{
		Version:      tx.Version,
		Inputs:       make([]*RpcTransactionInput, 0, len(tx.Inputs)),
		Outputs:      make([]*RpcTransactionOutput, 0, len(tx.Outputs)),
		LockTime:     tx.LockTime,
		SubnetworkID: SubnetworkIDHex(tx.SubnetworkID),
		PayloadHash:  PayloadHashHex(tx.PayloadHash),
		Fee:          tx.Fee,
	}
	for _, in := range tx.Inputs {
		rpcTx.Inputs = append(rpcTx.Inputs, &RpcTransactionInput{
			PreviousOutpoint: RpcOutpoint{
				TransactionID: in.PreviousOutpoint.TxID.String(),
				Index:         in.PreviousOutpoint.Index,
			},
			SignatureScript: hex.EncodeToString(in.SignatureScript),
			Sequence:        in.Sequence,
		})
	}
	for _, out := range tx.Outputs {
		rpcTx.Outputs = append(rpcTx.Outputs, &RpcTransactionOutput{
			Amount: out.Value,
			ScriptPublicKey: RpcScriptPublicKey{
				Version:         out.ScriptVersion,
				ScriptPublicKey: hex.EncodeToString(out.ScriptPubKey),
			},
		})
	}
	return rpcTx
}
