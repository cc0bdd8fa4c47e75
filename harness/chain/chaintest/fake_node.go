// Package chaintest provides fake JSON-RPC endpoints serving canned
// headers, storage proofs and output roots, for driving the chain client
// in tests.
package chaintest

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/op-harness/harness/chain"
	"github.com/ethereum-optimism/op-harness/harness/env"
)

// FakeNode answers the subset of JSON-RPC methods the chain client issues,
// and counts requests per concern so tests can assert how often (or that
// never) a node was consulted.
type FakeNode struct {
	t *testing.T

	Headers     map[string]*types.Header // keyed by block tag or hex number
	StorageRoot common.Hash
	OutputRoots map[uint64]common.Hash

	HeaderCalls int
	ProofCalls  int
	OutputCalls int
}

func NewFakeNode(t *testing.T) *FakeNode {
	return &FakeNode{t: t, Headers: make(map[string]*types.Header)}
}

type rpcCall struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (f *FakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var call rpcCall
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&call))

	var result any
	switch call.Method {
	case "eth_getBlockByNumber":
		f.HeaderCalls++
		var tag string
		require.NoError(f.t, json.Unmarshal(call.Params[0], &tag))
		result = f.Headers[tag]
	case "eth_getProof":
		f.ProofCalls++
		var addr common.Address
		require.NoError(f.t, json.Unmarshal(call.Params[0], &addr))
		require.Equal(f.t, chain.L2ToL1MessagePasserAddr, addr)
		result = map[string]any{
			"address":      addr,
			"accountProof": []string{},
			"balance":      "0x0",
			"codeHash":     common.Hash{},
			"nonce":        "0x0",
			"storageHash":  f.StorageRoot,
			"storageProof": []string{},
		}
	case "optimism_outputAtBlock":
		f.OutputCalls++
		var num hexutil.Uint64
		require.NoError(f.t, json.Unmarshal(call.Params[0], &num))
		root, ok := f.OutputRoots[uint64(num)]
		require.True(f.t, ok, "unexpected output root request for block %d", num)
		result = map[string]any{
			"version":    "0x",
			"outputRoot": root,
		}
	default:
		f.t.Errorf("unexpected RPC method %q", call.Method)
	}

	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      call.ID,
		"result":  result,
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(resp))
}

func (f *FakeNode) Serve(t *testing.T) string {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return srv.URL
}

// NewHeader builds a header that both marshals as a valid
// eth_getBlockByNumber result and hashes deterministically.
func NewHeader(number uint64, seed byte) *types.Header {
	return &types.Header{
		ParentHash:  common.Hash{seed, 0x01},
		UncleHash:   types.EmptyUncleHash,
		Coinbase:    common.Address{seed, 0x02},
		Root:        common.Hash{seed, 0x03},
		TxHash:      types.EmptyRootHash,
		ReceiptHash: types.EmptyRootHash,
		Difficulty:  common.Big0,
		Number:      new(big.Int).SetUint64(number),
		GasLimit:    30_000_000,
		GasUsed:     21_000,
		Time:        1_700_000_000 + number,
		Extra:       []byte{},
	}
}

// Setup is a three-node fixture: an L1 and L2 chain with a finalized L2
// block to claim, and an op-node serving output roots for that block and
// its parent.
type Setup struct {
	L1, L2, OpNode *FakeNode

	L1Head  *types.Header
	Agreed  *types.Header
	Claimed *types.Header
}

func NewSetup(t *testing.T, l2Finalized uint64) *Setup {
	s := &Setup{
		L1Head:  NewHeader(1000, 0xa1),
		Agreed:  NewHeader(l2Finalized-1, 0xb2),
		Claimed: NewHeader(l2Finalized, 0xc3),
	}
	s.Claimed.ParentHash = s.Agreed.Hash()

	s.L1 = NewFakeNode(t)
	s.L1.Headers["finalized"] = s.L1Head

	s.L2 = NewFakeNode(t)
	s.L2.Headers["finalized"] = s.Claimed
	s.L2.Headers[hexutil.EncodeUint64(l2Finalized-1)] = s.Agreed
	s.L2.Headers[hexutil.EncodeUint64(l2Finalized)] = s.Claimed
	s.L2.StorageRoot = common.Hash{0xdd, 0x0d}

	s.OpNode = NewFakeNode(t)
	s.OpNode.OutputRoots = map[uint64]common.Hash{
		l2Finalized - 1: {0xee, 0x01},
		l2Finalized:     {0xee, 0x02},
	}
	return s
}

// RPCConfig serves the fixture nodes over HTTP and returns a config
// pointing at them.
func (s *Setup) RPCConfig(t *testing.T, withOpNode bool) *env.RPCConfig {
	cfg := &env.RPCConfig{
		L1RPC: s.L1.Serve(t),
		L2RPC: s.L2.Serve(t),
	}
	if withOpNode {
		cfg.OpNodeRPC = s.OpNode.Serve(t)
	}
	return cfg
}

// Calls sums every RPC request the fixture nodes have answered.
func (s *Setup) Calls() int {
	total := 0
	for _, n := range []*FakeNode{s.L1, s.L2, s.OpNode} {
		total += n.HeaderCalls + n.ProofCalls + n.OutputCalls
	}
	return total
}
