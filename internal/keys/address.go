package keys

import (
	"fmt"
	"strings"
)

// Kaspa addresses use the cashaddr scheme: a human readable network prefix,
// a colon, then a base32 payload of version byte + key material + 40-bit
// checksum.

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// Address payload version bytes.
const (
	// VersionPubKey marks a 32-byte Schnorr x-only public key.
	VersionPubKey byte = 0
	// VersionPubKeyECDSA marks a 33-byte compressed ECDSA public key.
	VersionPubKeyECDSA byte = 1
	// VersionScriptHash marks a 32-byte script hash.
	VersionScriptHash byte = 8
)

// Pay-to-pubkey script opcodes.
const (
	opData32   byte = 0x20
	opCheckSig byte = 0xac
)

var charsetRev [128]int8

func init() {
	for i := range charsetRev {
		charsetRev[i] = -1
	}
	for i, c := range charset {
		charsetRev[c] = int8(i)
	}
}

func polyMod(values []byte) uint64 {
	c := uint64(1)
	for _, d := range values {
		c0 := c >> 35
		c = ((c & 0x07ffffffff) << 5) ^ uint64(d)
		if c0&0x01 != 0 {
			c ^= 0x98f2bc8e61
		}
		if c0&0x02 != 0 {
			c ^= 0x79b76d99e2
		}
		if c0&0x04 != 0 {
			c ^= 0xf33e5fb3c4
		}
		if c0&0x08 != 0 {
			c ^= 0xae2eabe2a8
		}
		if c0&0x10 != 0 {
			c ^= 0x1e4f43e470
		}
	}
	return c ^ 1
}

func checksumInput(prefix string, payload5 []byte) []byte {
	in := make([]byte, 0, len(prefix)+1+len(payload5)+8)
	for i := 0; i < len(prefix); i++ {
		in = append(in, prefix[i]&0x1f)
	}
	in = append(in, 0)
	in = append(in, payload5...)
	return in
}

// convertBits regroups the bits of data from frombits-sized groups into
// tobits-sized groups. With pad set, a final partial group is zero-padded;
// without it a partial group is an error.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc := uint(0)
	bits := uint(0)
	maxv := uint(1)<<toBits - 1
	out := make([]byte, 0, len(data)*int(fromBits)/int(toBits)+1)
	for _, b := range data {
		if uint(b)>>fromBits != 0 {
			return nil, fmt.Errorf("invalid data byte %d", b)
		}
		acc = acc<<fromBits | uint(b)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits)&maxv))
		}
	} else if bits >= fromBits || acc<<(toBits-bits)&maxv != 0 {
		return nil, fmt.Errorf("invalid padding")
	}
	return out, nil
}

// EncodeAddress renders a versioned payload under a network prefix.
func EncodeAddress(prefix string, version byte, payload []byte) string {
	data := make([]byte, 0, len(payload)+1)
	data = append(data, version)
	data = append(data, payload...)
	data5, _ := convertBits(data, 8, 5, true)

	checkIn := checksumInput(prefix, data5)
	checkIn = append(checkIn, make([]byte, 8)...)
	mod := polyMod(checkIn)

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte(':')
	for _, d := range data5 {
		sb.WriteByte(charset[d])
	}
	for i := 0; i < 8; i++ {
		sb.WriteByte(charset[mod>>uint(5*(7-i))&0x1f])
	}
	return sb.String()
}

// DecodeAddress parses and checksum-verifies an address, returning the
// prefix, the version byte and the raw payload.
func DecodeAddress(address string) (string, byte, []byte, error) {
	sep := strings.LastIndexByte(address, ':')
	if sep < 1 || sep+1 >= len(address) {
		return "", 0, nil, fmt.Errorf("address %q is missing a prefix", address)
	}
	prefix := address[:sep]
	encoded := address[sep+1:]

	data5 := make([]byte, 0, len(encoded))
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c >= 128 || charsetRev[c] < 0 {
			return "", 0, nil, fmt.Errorf("invalid character %q in address", c)
		}
		data5 = append(data5, byte(charsetRev[c]))
	}
	if len(data5) < 9 {
		return "", 0, nil, fmt.Errorf("address payload too short")
	}
	if polyMod(checksumInput(prefix, data5)) != 0 {
		return "", 0, nil, fmt.Errorf("address checksum mismatch")
	}

	data, err := convertBits(data5[:len(data5)-8], 5, 8, false)
	if err != nil {
		return "", 0, nil, fmt.Errorf("decode address payload: %w", err)
	}
	if len(data) == 0 {
		return "", 0, nil, fmt.Errorf("empty address payload")
	}
	return prefix, data[0], data[1:], nil
}

// StripPrefix removes the network prefix from an address string.
func StripPrefix(address string) string {
	if sep := strings.LastIndexByte(address, ':'); sep >= 0 {
		return address[sep+1:]
	}
	return address
}

// PayToPubKeyScript builds the canonical locking script for an x-only
// public key: OP_DATA_32 <pubkey> OP_CHECKSIG.
func PayToPubKeyScript(pubKey []byte) []byte {
	script := make([]byte, 0, len(pubKey)+2)
	script = append(script, byte(len(pubKey)))
	script = append(script, pubKey...)
	script = append(script, opCheckSig)
	return script
}

// PayToAddrScript builds the locking script for an encoded address.
func PayToAddrScript(address string) ([]byte, error) {
	_, version, payload, err := DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	switch version {
	case VersionPubKey:
		if len(payload) != 32 {
			return nil, fmt.Errorf("pubkey address payload must be 32 bytes, got %d", len(payload))
		}
		return PayToPubKeyScript(payload), nil
	case VersionPubKeyECDSA:
		if len(payload) != 33 {
			return nil, fmt.Errorf("ecdsa address payload must be 33 bytes, got %d", len(payload))
		}
		return PayToPubKeyScript(payload), nil
	default:
		return nil, fmt.Errorf("unsupported address version %d", version)
	}
}
