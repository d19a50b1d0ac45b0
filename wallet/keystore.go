package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/hyperchain-net/hyperchain/crypto"
)

const keystoreKDFIterations = 600_000

type keystoreFile struct {
	PublicKey  string `json:"public_key"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// SaveKey encrypts secret with password and writes it to path.
// Key derivation: PBKDF2-SHA256; encryption: AES-256-GCM.
func SaveKey(path, password string, secret crypto.SecretKey) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key := pbkdf2.Key([]byte(password), salt, keystoreKDFIterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	cipherText := gcm.Seal(nil, nonce, secret, nil)

	ks := keystoreFile{
		PublicKey:  secret.Public().Base64(),
		Salt:       crypto.EncodeBase64(salt),
		Nonce:      crypto.EncodeBase64(nonce),
		CipherText: crypto.EncodeBase64(cipherText),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadKey decrypts the keystore at path using password.
func LoadKey(path, password string) (crypto.SecretKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, err
	}
	salt, err := crypto.DecodeBase64(ks.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := crypto.DecodeBase64(ks.Nonce)
	if err != nil {
		return nil, err
	}
	cipherText, err := crypto.DecodeBase64(ks.CipherText)
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(password), salt, keystoreKDFIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	secret, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, errors.New("keystore decryption failed (wrong password?)")
	}
	return crypto.SecretKey(secret), nil
}
