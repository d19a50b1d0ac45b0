// Package shard implements the gossip overlay: a stateful
// publish/subscribe mesh distributing blocks and transactions between
// participants, and the local policy backend it feeds.
package shard

import (
	"encoding/json"

	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
)

// Member is the stable identity of a shard participant: its client
// public key and the server address it can be reached at.
type Member struct {
	ClientPublic  crypto.PublicKey
	ServerAddress string
}

// Key returns a map key uniquely identifying the member.
func (m Member) Key() string {
	return m.ClientPublic.Base64() + "@" + m.ServerAddress
}

// Equal reports whether two members are the same participant.
func (m Member) Equal(other Member) bool {
	return m.ClientPublic.Equal(other.ClientPublic) && m.ServerAddress == other.ServerAddress
}

// ---- wire form ----

type memberClientJSON struct {
	PublicKey string `json:"public_key"`
}

type memberServerJSON struct {
	Address string `json:"address"`
}

type memberJSON struct {
	Format uint64           `json:"format"`
	Client memberClientJSON `json:"client"`
	Server memberServerJSON `json:"server"`
}

// MarshalJSON renders the member in its versioned wire form.
func (m Member) MarshalJSON() ([]byte, error) {
	return json.Marshal(memberJSON{
		Format: core.WireFormat,
		Client: memberClientJSON{PublicKey: m.ClientPublic.Base64()},
		Server: memberServerJSON{Address: m.ServerAddress},
	})
}

// UnmarshalJSON decodes the versioned wire form.
func (m *Member) UnmarshalJSON(data []byte) error {
	var wire memberJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Format != core.WireFormat {
		return &core.InvalidStandardError{Format: wire.Format}
	}
	pub, err := crypto.PublicKeyFromBase64(wire.Client.PublicKey)
	if err != nil {
		return &core.FieldError{Field: "client.public_key", Err: err}
	}
	m.ClientPublic = pub
	m.ServerAddress = wire.Server.Address
	return nil
}
