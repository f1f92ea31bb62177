package keys

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/tyler-smith/go-bip32"
	"golang.org/x/crypto/blake2b"
)

// BIP-44 derivation path constants.
// Full path: m/44'/972'/0'/chain'/index'
const (
	// PurposeBIP44 is the BIP-44 purpose field (hardened).
	PurposeBIP44 = bip32.FirstHardenedChild + 44

	// CoinTypeKaspa is the registered Kaspa coin type (hardened).
	CoinTypeKaspa = bip32.FirstHardenedChild + 972

	// ChainReceive is the external chain for receiving addresses.
	ChainReceive uint32 = 0

	// ChainChange is the internal chain for change addresses.
	ChainChange uint32 = 1
)

// uidAddressIndex fixes the auxiliary derivation whose address identifies
// the wallet across restarts: m/44'/972'/0'/1'/0'.
const uidAddressIndex uint32 = 0

// HDRoot is the wallet's master key together with the phrase it came from.
// The private material never leaves this package in plaintext, signing is
// done through Key references.
type HDRoot struct {
	master     *bip32.Key
	seedPhrase string
}

// NewHDRoot builds the root from a BIP-39 seed phrase.
func NewHDRoot(mnemonic, passphrase string) (*HDRoot, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDRoot{master: master, seedPhrase: mnemonic}, nil
}

// SeedPhrase returns the mnemonic backing this root.
func (r *HDRoot) SeedPhrase() string {
	return r.seedPhrase
}

// PrivateKeyString returns the serialized extended private key.
func (r *HDRoot) PrivateKeyString() string {
	return r.master.String()
}

// DeriveKey derives the wallet key at m/44'/972'/0'/chain'/index'.
func (r *HDRoot) DeriveKey(chain, index uint32) (*Key, error) {
	current := r.master
	for _, childIndex := range []uint32{
		PurposeBIP44,
		CoinTypeKaspa,
		bip32.FirstHardenedChild, // account 0
		bip32.FirstHardenedChild + chain,
		bip32.FirstHardenedChild + index,
	} {
		child, err := current.NewChildKey(childIndex)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", childIndex, err)
		}
		current = child
	}
	priv, _ := btcec.PrivKeyFromBytes(rawPrivateKey(current))
	return &Key{priv: priv, chain: chain, index: index}, nil
}

// UID derives the stable wallet identifier: the hash of the address at the
// fixed auxiliary path, stripped of its network prefix.
func (r *HDRoot) UID(prefix string) (string, error) {
	key, err := r.DeriveKey(ChainChange, uidAddressIndex)
	if err != nil {
		return "", err
	}
	stripped := StripPrefix(key.Address(prefix))
	sum := blake2b.Sum256([]byte(stripped))
	return hex.EncodeToString(sum[:8]), nil
}

// rawPrivateKey unwraps the 32-byte scalar from a bip32 key.
// bip32 private keys are 33 bytes with a leading zero.
func rawPrivateKey(k *bip32.Key) []byte {
	raw := k.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// Key is one derived child key. It signs with Schnorr and renders its
// x-only public key as a Kaspa address.
type Key struct {
	priv  *btcec.PrivateKey
	chain uint32
	index uint32
}

// Chain returns the derivation chain (0 receive, 1 change).
func (k *Key) Chain() uint32 { return k.chain }

// Index returns the derivation index on the chain.
func (k *Key) Index() uint32 { return k.index }

// PubKeyBytes returns the 32-byte x-only public key.
func (k *Key) PubKeyBytes() []byte {
	return schnorr.SerializePubKey(k.priv.PubKey())
}

// Address encodes the public key under the given network prefix.
func (k *Key) Address(prefix string) string {
	return EncodeAddress(prefix, VersionPubKey, k.PubKeyBytes())
}

// ScriptPubKey builds the pay-to-pubkey locking script for this key.
func (k *Key) ScriptPubKey() []byte {
	return PayToPubKeyScript(k.PubKeyBytes())
}

// SignSchnorr signs a 32-byte digest and returns the 64-byte signature.
func (k *Key) SignSchnorr(hash [32]byte) ([]byte, error) {
	sig, err := schnorr.Sign(k.priv, hash[:])
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}
