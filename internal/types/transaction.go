package types

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/blake2b"
)

const (
	// TxVersion is the only transaction version the wallet produces.
	TxVersion uint16 = 0

	// SubnetworkIDSize is the byte length of a subnetwork id.
	SubnetworkIDSize = 20
	// PayloadHashSize is the byte length of the payload hash field.
	PayloadHashSize = 32

	// SigHashAll commits the signature to all inputs and outputs.
	SigHashAll byte = 0x01
)

// Mass parameters. Mass is the weighted size measure the node enforces per
// block, it is not the serialized byte length.
const (
	MassPerTxByte           = 1
	MassPerScriptPubKeyByte = 10
	MassPerSigOp            = 1000

	MaxMassAcceptedByBlock = 10_000_000
	// EstimatedStandaloneMassWithoutInputs bounds the mass of the
	// non-input portion of a wallet transaction: two outputs plus the
	// fixed skeleton fields.
	EstimatedStandaloneMassWithoutInputs = 2_000
	MaxMassUTXOs                         = MaxMassAcceptedByBlock - EstimatedStandaloneMassWithoutInputs
)

// Signature size calibration. An unsigned input grows by about this much
// once the signature script is attached; a signed serialization overshoots
// the final wire size by two bytes per input.
const (
	UnsignedInputPadBytes  = 151
	SignedInputTrimBytes   = 2
	SignatureScriptAllSize = 66 // OP_DATA_65, 64 byte schnorr sig, hash type
)

// SubnetworkIDNative is the zero subnetwork every wallet transaction uses.
var SubnetworkIDNative [SubnetworkIDSize]byte

// TxInput spends a previous outpoint.
type TxInput struct {
	PreviousOutpoint Outpoint
	SignatureScript  []byte
	Sequence         uint64
}

// TxOutput carries an amount to a script public key.
type TxOutput struct {
	Value         uint64
	ScriptVersion uint16
	ScriptPubKey  []byte
}

// Transaction is the wallet-side transaction model. The fee field is not
// serialized, it is carried so the wire conversion can report it to the node.
type Transaction struct {
	Version      uint16
	Inputs       []*TxInput
	Outputs      []*TxOutput
	LockTime     uint64
	SubnetworkID [SubnetworkIDSize]byte
	Gas          uint64
	PayloadHash  [PayloadHashSize]byte
	Payload      []byte

	Fee uint64
}

func (tx *Transaction) serialize(sigScript func(i int) []byte) []byte {
	buf := make([]byte, 0, tx.SerializedSize())
	var u16 [2]byte
	var u32 [4]byte
	var u64 [8]byte

	putU16 := func(v uint16) {
		binary.LittleEndian.PutUint16(u16[:], v)
		buf = append(buf, u16[:]...)
	}
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32[:], v)
		buf = append(buf, u32[:]...)
	}
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(u64[:], v)
		buf = append(buf, u64[:]...)
	}

	putU16(tx.Version)
	putU64(uint64(len(tx.Inputs)))
	for i, in := range tx.Inputs {
		buf = append(buf, in.PreviousOutpoint.TxID[:]...)
		putU32(in.PreviousOutpoint.Index)
		script := in.SignatureScript
		if sigScript != nil {
			script = sigScript(i)
		}
		putU64(uint64(len(script)))
		buf = append(buf, script...)
		putU64(in.Sequence)
	}
	putU64(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		putU64(out.Value)
		putU16(out.ScriptVersion)
		putU64(uint64(len(out.ScriptPubKey)))
		buf = append(buf, out.ScriptPubKey...)
	}
	putU64(tx.LockTime)
	buf = append(buf, tx.SubnetworkID[:]...)
	putU64(tx.Gas)
	buf = append(buf, tx.PayloadHash[:]...)
	putU64(uint64(len(tx.Payload)))
	buf = append(buf, tx.Payload...)
	return buf
}

// Serialize renders the full wire encoding including signature scripts.
func (tx *Transaction) Serialize() []byte {
	return tx.serialize(nil)
}

// SerializedSize is the byte length of Serialize without building the buffer.
func (tx *Transaction) SerializedSize() int {
	size := 2 + 8 + 8 + 8 + SubnetworkIDSize + 8 + PayloadHashSize + 8 + len(tx.Payload)
	for _, in := range tx.Inputs {
		size += chainhash.HashSize + 4 + 8 + len(in.SignatureScript) + 8
	}
	for _, out := range tx.Outputs {
		size += 8 + 2 + 8 + len(out.ScriptPubKey)
	}
	return size
}

// ID computes the transaction id: the hash of the encoding with empty
// signature scripts, so the id is stable across signing.
func (tx *Transaction) ID() chainhash.Hash {
	enc := tx.serialize(func(int) []byte { return nil })
	return chainhash.Hash(blake2b.Sum256(enc))
}

// Mass computes the block capacity weight of the transaction.
func (tx *Transaction) Mass() uint64 {
	mass := uint64(tx.SerializedSize()) * MassPerTxByte
	for _, out := range tx.Outputs {
		mass += uint64(2+len(out.ScriptPubKey)) * MassPerScriptPubKeyByte
	}
	// One signature operation per input under the P2PK scripts the
	// wallet produces.
	mass += uint64(len(tx.Inputs)) * MassPerSigOp
	return mass
}

// CalcSignatureHash produces the digest signed for the given input under
// SIGHASH_ALL: the transaction encoded with the spent output's script public
// key in place of this input's signature script, empty scripts elsewhere,
// with the hash type appended.
func (tx *Transaction) CalcSignatureHash(idx int, prevScriptPubKey []byte) [32]byte {
	enc := tx.serialize(func(i int) []byte {
		if i == idx {
			return prevScriptPubKey
		}
		return nil
	})
	enc = append(enc, SigHashAll)
	return blake2b.Sum256(enc)
}

// SubnetworkIDHex renders a subnetwork id as the 40 hex character wire string.
func SubnetworkIDHex(id [SubnetworkIDSize]byte) string {
	return hex.EncodeToString(id[:])
}

// PayloadHashHex renders a payload hash as the 64 hex character wire string.
func PayloadHashHex(hash [PayloadHashSize]byte) string {
	return hex.EncodeToString(hash[:])
}
