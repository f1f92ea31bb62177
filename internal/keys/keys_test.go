package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testRoot(t *testing.T) *HDRoot {
	t.Helper()
	root, err := NewHDRoot(testMnemonic, "")
	require.NoError(t, err)
	return root
}

func TestGenerateMnemonic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	require.NoError(t, err)
	assert.Len(t, strings.Fields(mnemonic), 24)
	assert.True(t, ValidateMnemonic(mnemonic))
}

func TestNewHDRootRejectsBadMnemonic(t *testing.T) {
	_, err := NewHDRoot("this is not a valid seed phrase at all", "")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestDerivationIsDeterministic(t *testing.T) {
	a := testRoot(t)
	b := testRoot(t)

	keyA, err := a.DeriveKey(ChainReceive, 5)
	require.NoError(t, err)
	keyB, err := b.DeriveKey(ChainReceive, 5)
	require.NoError(t, err)

	assert.Equal(t, keyA.PubKeyBytes(), keyB.PubKeyBytes())
	assert.Equal(t, keyA.Address("kaspatest"), keyB.Address("kaspatest"))
}

func TestChainsAndIndexesDiverge(t *testing.T) {
	root := testRoot(t)

	receive0, err := root.DeriveKey(ChainReceive, 0)
	require.NoError(t, err)
	receive1, err := root.DeriveKey(ChainReceive, 1)
	require.NoError(t, err)
	change0, err := root.DeriveKey(ChainChange, 0)
	require.NoError(t, err)

	assert.NotEqual(t, receive0.Address("kaspa"), receive1.Address("kaspa"))
	assert.NotEqual(t, receive0.Address("kaspa"), change0.Address("kaspa"))
}

func TestUIDStableAcrossRebuilds(t *testing.T) {
	a := testRoot(t)
	b := testRoot(t)

	uidA, err := a.UID("kaspatest")
	require.NoError(t, err)
	uidB, err := b.UID("kaspatest")
	require.NoError(t, err)

	assert.Equal(t, uidA, uidB)
	assert.Len(t, uidA, 16)
}

func TestSignSchnorr(t *testing.T) {
	root := testRoot(t)
	key, err := root.DeriveKey(ChainReceive, 0)
	require.NoError(t, err)

	var digest [32]byte
	copy(digest[:], []byte("12345678901234567890123456789012"))
	sig, err := key.SignSchnorr(digest)
	require.NoError(t, err)
	assert.Len(t, sig, 64)
}

func TestAddressRoundTrip(t *testing.T) {
	root := testRoot(t)
	key, err := root.DeriveKey(ChainReceive, 0)
	require.NoError(t, err)

	address := key.Address("kaspatest")
	assert.True(t, strings.HasPrefix(address, "kaspatest:"))

	prefix, version, payload, err := DecodeAddress(address)
	require.NoError(t, err)
	assert.Equal(t, "kaspatest", prefix)
	assert.Equal(t, VersionPubKey, version)
	assert.Equal(t, key.PubKeyBytes(), payload)
}

func TestDecodeAddressRejectsCorruption(t *testing.T) {
	root := testRoot(t)
	key, err := root.DeriveKey(ChainReceive, 0)
	require.NoError(t, err)
	address := key.Address("kaspa")

	// Flip one payload character.
	raw := []byte(address)
	pos := len(raw) - 12
	if raw[pos] == 'q' {
		raw[pos] = 'p'
	} else {
		raw[pos] = 'q'
	}
	_, _, _, err = DecodeAddress(string(raw))
	assert.Error(t, err)

	_, _, _, err = DecodeAddress("noseparator")
	assert.Error(t, err)
}

func TestPayToAddrScript(t *testing.T) {
	root := testRoot(t)
	key, err := root.DeriveKey(ChainReceive, 3)
	require.NoError(t, err)

	script, err := PayToAddrScript(key.Address("kaspa"))
	require.NoError(t, err)
	require.Len(t, script, 34)
	assert.Equal(t, byte(0x20), script[0])
	assert.Equal(t, byte(0xac), script[33])
	assert.Equal(t, key.PubKeyBytes(), script[1:33])
	assert.Equal(t, key.ScriptPubKey(), script)
}

func TestStripPrefix(t *testing.T) {
	assert.Equal(t, "qqxyz", StripPrefix("kaspa:qqxyz"))
	assert.Equal(t, "qqxyz", StripPrefix("qqxyz"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	params := EncryptionParams{Memory: 1024, Iterations: 1, Parallelism: 1}
	secret := []byte(`{"privKey":"xprv...","seedPhrase":"` + testMnemonic + `"}`)

	sealed, err := Encrypt(secret, []byte("hunter2"), params)
	require.NoError(t, err)

	opened, err := Decrypt(sealed, []byte("hunter2"))
	require.NoError(t, err)
	assert.Equal(t, secret, opened)

	_, err = Decrypt(sealed, []byte("wrong"))
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestExportImportRoundTrip(t *testing.T) {
	root := testRoot(t)

	sealed, err := ExportRoot(root, "correct horse battery staple")
	require.NoError(t, err)

	imported, err := ImportRoot(sealed, "correct horse battery staple")
	require.NoError(t, err)

	assert.Equal(t, root.SeedPhrase(), imported.SeedPhrase())
	assert.Equal(t, root.PrivateKeyString(), imported.PrivateKeyString())

	uidA, err := root.UID("kaspa")
	require.NoError(t, err)
	uidB, err := imported.UID("kaspa")
	require.NoError(t, err)
	assert.Equal(t, uidA, uidB)

	// The round trip survives a second export.
	resealed, err := ExportRoot(imported, "correct horse battery staple")
	require.NoError(t, err)
	again, err := ImportRoot(resealed, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, imported.SeedPhrase(), again.SeedPhrase())

	_, err = ImportRoot(sealed, "wrong password")
	assert.ErrorIs(t, err, ErrWrongPassword)
}
