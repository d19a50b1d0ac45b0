package core

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hyperchain-net/hyperchain/crypto"
)

func buildMessage(t *testing.T, secret crypto.SecretKey) *Transaction {
	t.Helper()
	tx, err := NewTransactionBuilder().
		WithBody(MessageBody{
			From:    secret.Public(),
			To:      secret.Public(),
			Format:  DefaultEncoding,
			Content: crypto.EncodeBase64([]byte("Hello, World!")),
		}).
		Sign(secret)
	if err != nil {
		t.Fatalf("sign transaction: %v", err)
	}
	return tx
}

func buildRaw(t *testing.T, secret crypto.SecretKey, payload []byte) *Transaction {
	t.Helper()
	tx, err := NewTransactionBuilder().
		WithBody(RawBody{Data: payload}).
		Sign(secret)
	if err != nil {
		t.Fatalf("sign transaction: %v", err)
	}
	return tx
}

func TestTransactionValidate(t *testing.T) {
	secret := crypto.RandomSecretKey()

	for _, tx := range []*Transaction{
		buildMessage(t, secret),
		buildRaw(t, secret, []byte("raw payload")),
		buildRaw(t, secret, nil), // empty body is legal
	} {
		result, err := tx.Validate()
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if !result.IsValid() {
			t.Errorf("fresh transaction invalid: kind %d", result.Kind)
		}
		if !tx.Hash().Equal(tx.CalcHash()) {
			t.Error("stored hash does not match calculated hash")
		}
	}
}

func TestTransactionFutureCreationTime(t *testing.T) {
	secret := crypto.RandomSecretKey()

	tx, err := NewTransactionBuilder().
		WithCreatedAt(Timestamp() + 25*60*60).
		WithBody(RawBody{Data: []byte("from the future")}).
		Sign(secret)
	if err != nil {
		t.Fatal(err)
	}

	result, err := tx.Validate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != TransactionInvalidCreationTime {
		t.Errorf("kind: got %d want TransactionInvalidCreationTime", result.Kind)
	}
}

func TestTransactionJSONRoundTrip(t *testing.T) {
	secret := crypto.RandomSecretKey()

	bodies := []TransactionBody{
		RawBody{Data: []byte("Hello, World!")},
		MessageBody{
			From:    secret.Public(),
			To:      secret.Public(),
			Format:  DefaultEncoding,
			Content: crypto.EncodeBase64([]byte("direct message")),
		},
		AnnouncementBody{
			From:    secret.Public(),
			Format:  DefaultEncoding,
			Content: crypto.EncodeBase64([]byte("to whom it may concern")),
		},
	}

	for _, body := range bodies {
		tx, err := NewTransactionBuilder().WithBody(body).Sign(secret)
		if err != nil {
			t.Fatal(err)
		}

		data, err := json.Marshal(tx)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		decoded := new(Transaction)
		if err := json.Unmarshal(data, decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !decoded.Equal(tx) {
			t.Errorf("round trip mismatch for %s body", body.BodyType())
		}

		result, err := decoded.Validate()
		if err != nil {
			t.Fatal(err)
		}
		if !result.IsValid() {
			t.Errorf("decoded %s transaction invalid", body.BodyType())
		}
	}
}

func TestTransactionUnknownFormatRejected(t *testing.T) {
	secret := crypto.RandomSecretKey()
	tx := buildRaw(t, secret, []byte("versioned"))

	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatal(err)
	}
	generic["format"] = 2
	data, err = json.Marshal(generic)
	if err != nil {
		t.Fatal(err)
	}

	err = json.Unmarshal(data, new(Transaction))
	var standard *InvalidStandardError
	if !asError(err, &standard) {
		t.Fatalf("expected InvalidStandardError, got %v", err)
	}
	if standard.Format != 2 {
		t.Errorf("reported format: got %d want 2", standard.Format)
	}
}

// mutateWire re-encodes tx with fn applied to its generic JSON form.
// Numbers are decoded as json.Number so untouched 64-bit fields survive
// the round trip exactly.
func mutateWire(t *testing.T, tx *Transaction, fn func(map[string]any)) *Transaction {
	t.Helper()
	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		t.Fatal(err)
	}
	fn(generic)
	data, err = json.Marshal(generic)
	if err != nil {
		t.Fatal(err)
	}
	mutated := new(Transaction)
	if err := json.Unmarshal(data, mutated); err != nil {
		t.Fatalf("unmarshal mutated: %v", err)
	}
	return mutated
}

func TestTransactionHashBinding(t *testing.T) {
	secret := crypto.RandomSecretKey()
	tx := buildMessage(t, secret)

	mutated := mutateWire(t, tx, func(generic map[string]any) {
		inner := generic["transaction"].(map[string]any)
		metadata := inner["metadata"].(map[string]any)
		metadata["random_seed"] = float64(tx.RandomSeed() + 1)
	})

	if mutated.CalcHash().Equal(tx.CalcHash()) {
		t.Fatal("mutated content produced the same hash")
	}

	result, err := mutated.Validate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != TransactionInvalidHash {
		t.Errorf("kind: got %d want TransactionInvalidHash", result.Kind)
	}
}

func TestTransactionSignBinding(t *testing.T) {
	secret := crypto.RandomSecretKey()
	tx := buildMessage(t, secret)

	mutated := mutateWire(t, tx, func(generic map[string]any) {
		inner := generic["transaction"].(map[string]any)
		content := inner["content"].(map[string]any)
		content["sign"] = crypto.EncodeBase64(make([]byte, 64))
	})

	result, err := mutated.Validate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != TransactionInvalidSign {
		t.Errorf("kind: got %d want TransactionInvalidSign", result.Kind)
	}
}
