package keys

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// exportPayload is the plaintext shape of a seed export. The ciphertext
// wrapping it is the only durable secret.
type exportPayload struct {
	PrivKey    string `json:"privKey"`
	SeedPhrase string `json:"seedPhrase"`
}

// ExportRoot seals the root's seed material under a password and returns
// it base64 encoded.
func ExportRoot(root *HDRoot, password string) (string, error) {
	payload, err := json.Marshal(exportPayload{
		PrivKey:    root.PrivateKeyString(),
		SeedPhrase: root.SeedPhrase(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal export payload: %w", err)
	}
	sealed, err := Encrypt(payload, []byte(password), DefaultEncryptionParams())
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// ImportRoot opens a sealed export and rebuilds the HD root from its seed
// phrase.
func ImportRoot(encoded, password string) (*HDRoot, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	plaintext, err := Decrypt(sealed, []byte(password))
	if err != nil {
		return nil, err
	}
	var payload exportPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal export payload: %w", err)
	}
	return NewHDRoot(payload.SeedPhrase, "")
}
