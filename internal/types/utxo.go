package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Outpoint identifies a UTXO by the transaction that created it and the
// output index within that transaction.
type Outpoint struct {
	TxID  chainhash.Hash
	Index uint32
}

func NewOutpoint(txid string, index uint32) (*Outpoint, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction id %q: %w", txid, err)
	}
	return &Outpoint{TxID: *hash, Index: index}, nil
}

// String renders the canonical "txid:index" key used across the UTXO set.
func (o *Outpoint) String() string {
	return o.TxID.String() + ":" + strconv.FormatUint(uint64(o.Index), 10)
}

// ParseOutpoint is the inverse of Outpoint.String.
func ParseOutpoint(key string) (*Outpoint, error) {
	sep := strings.LastIndexByte(key, ':')
	if sep < 0 {
		return nil, fmt.Errorf("invalid outpoint key %q", key)
	}
	index, err := strconv.ParseUint(key[sep+1:], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid outpoint index in %q: %w", key, err)
	}
	return NewOutpoint(key[:sep], uint32(index))
}

// UnspentOutput is a spendable coin fragment owned by one of the wallet
// addresses. Instances are immutable once created, reclassification between
// confirmed and pending happens by moving them between collections.
type UnspentOutput struct {
	Outpoint       Outpoint
	Address        string
	Satoshis       uint64
	ScriptPubKey   []byte
	BlockBlueScore uint64
	IsCoinbase     bool
}

// IsMatureAt reports whether the output is spendable at the given virtual
// chain blue score under the network maturity rules.
func (u *UnspentOutput) IsMatureAt(blueScore uint64, net *Network) bool {
	return blueScore >= u.BlockBlueScore+net.Maturity(u.IsCoinbase)
}

// ID returns the outpoint key of this output.
func (u *UnspentOutput) ID() string {
	return u.Outpoint.String()
}
