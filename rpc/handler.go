package rpc

import (
	"encoding/json"

	"github.com/hyperchain-net/hyperchain/chain"
	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/shard"
)

// Handler dispatches JSON-RPC methods against the local participant.
type Handler struct {
	shard      *shard.Shard
	blockchain *chain.Blockchain
}

// NewHandler creates a handler over the participant's shard and chain
// view.
func NewHandler(s *shard.Shard, blockchain *chain.Blockchain) *Handler {
	return &Handler{shard: s, blockchain: blockchain}
}

// Handle dispatches one decoded request.
func (h *Handler) Handle(req Request) Response {
	switch req.Method {
	case "chain_head":
		return h.chainEndpoint(req, true)
	case "chain_tail":
		return h.chainEndpoint(req, false)
	case "chain_getBlock":
		return h.chainGetBlock(req)
	case "chain_getTransaction":
		return h.chainGetTransaction(req)
	case "chain_validate":
		return h.chainValidate(req)
	case "tx_submit":
		return h.txSubmit(req)
	case "shard_status":
		return h.shardStatus(req)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (h *Handler) chainEndpoint(req Request, head bool) Response {
	var (
		block *core.Block
		err   error
	)
	if head {
		block, err = h.blockchain.Blocks().Head()
	} else {
		block, err = h.blockchain.Blocks().Tail()
	}
	if err != nil {
		return errorResponse(req.ID, codeInternal, err.Error())
	}
	if block == nil {
		return resultResponse(req.ID, nil)
	}
	return resultResponse(req.ID, block)
}

func (h *Handler) chainGetBlock(req Request) Response {
	var params struct {
		Number uint64 `json:"number"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}

	block, err := h.blockchain.Blocks().Get(params.Number)
	if err != nil {
		return errorResponse(req.ID, codeInternal, err.Error())
	}
	if block == nil {
		return resultResponse(req.ID, nil)
	}
	return resultResponse(req.ID, block)
}

func (h *Handler) chainGetTransaction(req Request) Response {
	var params struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}
	hash, err := crypto.HashFromBase64(params.Hash)
	if err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}

	tx, block, err := h.blockchain.Transactions().GetTransaction(hash)
	if err != nil {
		return errorResponse(req.ID, codeInternal, err.Error())
	}
	if tx == nil {
		// Fall back to the staged pool.
		staged, err := h.shard.Backend().GetStagedTransaction(hash)
		if err != nil {
			return errorResponse(req.ID, codeInternal, err.Error())
		}
		if staged == nil {
			return resultResponse(req.ID, nil)
		}
		return resultResponse(req.ID, map[string]any{
			"transaction": staged,
			"staged":      true,
		})
	}
	return resultResponse(req.ID, map[string]any{
		"transaction":  tx,
		"block_number": block.Number(),
		"staged":       false,
	})
}

func (h *Handler) chainValidate(req Request) Response {
	var params struct {
		Since uint64 `json:"since"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, codeInvalidParams, err.Error())
		}
	}

	result, err := h.blockchain.ValidateSince(params.Since)
	if err != nil {
		return errorResponse(req.ID, codeInternal, err.Error())
	}
	return resultResponse(req.ID, map[string]any{
		"valid":        result.IsValid(),
		"kind":         int(result.Kind),
		"block_number": result.BlockNumber,
	})
}

func (h *Handler) txSubmit(req Request) Response {
	var params struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}

	tx := new(core.Transaction)
	if err := json.Unmarshal(params.Transaction, tx); err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}

	result, err := tx.Validate()
	if err != nil {
		return errorResponse(req.ID, codeInternal, err.Error())
	}
	if !result.IsValid() {
		return errorResponse(req.ID, codeInvalidRequest, "transaction failed validation")
	}

	if err := h.shard.AnnounceTransaction(tx); err != nil {
		return errorResponse(req.ID, codeInternal, err.Error())
	}
	return resultResponse(req.ID, map[string]any{"hash": tx.Hash().Base64()})
}

func (h *Handler) shardStatus(req Request) Response {
	staged, err := h.shard.Backend().GetStagedTransactions()
	if err != nil {
		return errorResponse(req.ID, codeInternal, err.Error())
	}

	subscribers := make([]string, 0)
	for _, member := range h.shard.Subscribers() {
		subscribers = append(subscribers, member.Key())
	}
	subscriptions := make([]string, 0)
	for _, member := range h.shard.Subscriptions() {
		subscriptions = append(subscriptions, member.Key())
	}

	return resultResponse(req.ID, map[string]any{
		"shard":         h.shard.Name(),
		"public_key":    h.shard.PublicKey().Base64(),
		"subscribers":   subscribers,
		"subscriptions": subscriptions,
		"staged":        len(staged),
	})
}
