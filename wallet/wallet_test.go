package wallet

import (
	"path/filepath"
	"testing"

	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/transport"
)

func TestWalletBuildsValidTransactions(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	peer, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	raw, err := w.NewRaw([]byte("opaque"))
	if err != nil {
		t.Fatal(err)
	}
	message, err := w.NewMessage(peer.PublicKey(), []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	announcement, err := w.NewAnnouncement(
		[]byte("to everyone"),
		transport.DefaultMessageEncoding,
		transport.CompressionBalanced,
		[]byte("salt"),
	)
	if err != nil {
		t.Fatal(err)
	}

	for _, tx := range []*core.Transaction{raw, message, announcement} {
		result, err := tx.Validate()
		if err != nil {
			t.Fatal(err)
		}
		if !result.IsValid() {
			t.Errorf("%s transaction invalid: kind %d", tx.Body().BodyType(), result.Kind)
		}
		if !tx.Author().Equal(w.PublicKey()) {
			t.Error("author should be the wallet key")
		}
	}

	body, ok := message.Body().(core.MessageBody)
	if !ok {
		t.Fatal("message body type lost")
	}
	decoded, err := crypto.DecodeBase64(body.Content)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != "hello" {
		t.Error("message content did not round trip")
	}
}

func TestAnnouncementContentReadable(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	salt := []byte("channel")
	tx, err := w.NewAnnouncement([]byte("payload"), transport.DefaultMessageEncoding, transport.CompressionFast, salt)
	if err != nil {
		t.Fatal(err)
	}

	body := tx.Body().(core.AnnouncementBody)
	encoding, err := transport.ParseMessageEncoding(string(body.Format))
	if err != nil {
		t.Fatal(err)
	}

	shared, err := w.Secret().SharedSecret(w.PublicKey(), salt)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := encoding.Backward(body.Content, shared)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != "payload" {
		t.Error("announcement content did not round trip")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validator.key")
	secret := crypto.RandomSecretKey()

	if err := SaveKey(path, "correct horse", secret); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}

	loaded, err := LoadKey(path, "correct horse")
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if loaded.Base64() != secret.Base64() {
		t.Error("loaded key does not match saved key")
	}

	if _, err := LoadKey(path, "wrong password"); err == nil {
		t.Error("wrong password should fail to decrypt")
	}
}
