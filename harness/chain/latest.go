// Package chain derives the block environment for an op-program run from
// live chain state: the latest finalized L2 block becomes the claimed block,
// its parent the agreed starting point.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-optimism/op-harness/harness/env"
)

// L2ToL1MessagePasserAddr is the predeploy whose storage root is committed
// to by the v0 output root.
var L2ToL1MessagePasserAddr = common.HexToAddress("0x4200000000000000000000000000000000000016")

var ErrNoFinalizedParent = errors.New("finalized L2 head has no parent to agree on")

// Client reads the L1/L2 state needed to build an env.BlockEnv.
// The op-node connection is optional: without it output roots are computed
// from L2 state proofs.
type Client struct {
	log    log.Logger
	l1     *ethclient.Client
	l2     *ethclient.Client
	l2Geth *gethclient.Client
	opNode *rpc.Client
}

func Dial(ctx context.Context, logger log.Logger, cfg *env.RPCConfig) (*Client, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	l1, err := ethclient.DialContext(ctx, cfg.L1RPC)
	if err != nil {
		return nil, fmt.Errorf("failed to dial L1 RPC %q: %w", cfg.L1RPC, err)
	}
	l2RPC, err := rpc.DialContext(ctx, cfg.L2RPC)
	if err != nil {
		l1.Close()
		return nil, fmt.Errorf("failed to dial L2 RPC %q: %w", cfg.L2RPC, err)
	}
	c := &Client{
		log:    logger,
		l1:     l1,
		l2:     ethclient.NewClient(l2RPC),
		l2Geth: gethclient.New(l2RPC),
	}
	if cfg.OpNodeRPC != "" {
		opNode, err := rpc.DialContext(ctx, cfg.OpNodeRPC)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to dial op-node RPC %q: %w", cfg.OpNodeRPC, err)
		}
		c.opNode = opNode
	}
	return c, nil
}

func (c *Client) Close() {
	c.l1.Close()
	c.l2.Close()
	if c.opNode != nil {
		c.opNode.Close()
	}
}

// LatestL2BlockEnv pins a run to the latest finalized L2 block: the claim is
// the output root at that block, the agreed pre-state is its parent, and the
// L1 head is the latest finalized L1 block.
func (c *Client) LatestL2BlockEnv(ctx context.Context) (*env.BlockEnv, error) {
	claimed, err := c.l2.HeaderByNumber(ctx, big.NewInt(rpc.FinalizedBlockNumber.Int64()))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch finalized L2 head: %w", err)
	}
	n := claimed.Number.Uint64()
	if n == 0 {
		return nil, ErrNoFinalizedParent
	}
	c.log.Info("Pinning to finalized L2 block", "block", n, "hash", claimed.Hash())

	agreed, err := c.l2.HeaderByNumber(ctx, new(big.Int).SetUint64(n-1))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agreed L2 block %d: %w", n-1, err)
	}
	startingRoot, err := c.OutputRootAt(ctx, agreed)
	if err != nil {
		return nil, fmt.Errorf("failed to determine starting output root at block %d: %w", n-1, err)
	}
	claim, err := c.OutputRootAt(ctx, claimed)
	if err != nil {
		return nil, fmt.Errorf("failed to determine claimed output root at block %d: %w", n, err)
	}
	l1Head, err := c.l1.HeaderByNumber(ctx, big.NewInt(rpc.FinalizedBlockNumber.Int64()))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch finalized L1 head: %w", err)
	}

	return &env.BlockEnv{
		L1Head:             l1Head.Hash(),
		L2Head:             agreed.Hash(),
		StartingOutputRoot: startingRoot,
		L2Claim:            claim,
		L2BlockNumber:      n,
	}, nil
}

// OutputRootAt resolves the output root committing to the given L2 block,
// preferring the op-node view when one is connected.
func (c *Client) OutputRootAt(ctx context.Context, header *types.Header) (common.Hash, error) {
	if c.opNode != nil {
		var resp outputResponse
		err := c.opNode.CallContext(ctx, &resp, "optimism_outputAtBlock", hexutil.Uint64(header.Number.Uint64()))
		if err != nil {
			return common.Hash{}, fmt.Errorf("optimism_outputAtBlock failed for block %d: %w", header.Number.Uint64(), err)
		}
		return resp.OutputRoot, nil
	}
	return c.computeOutputRoot(ctx, header)
}

// computeOutputRoot derives the v0 output root directly from L2 state:
// keccak256(version ++ stateRoot ++ messagePasserStorageRoot ++ blockHash).
func (c *Client) computeOutputRoot(ctx context.Context, header *types.Header) (common.Hash, error) {
	proof, err := c.l2Geth.GetProof(ctx, L2ToL1MessagePasserAddr, nil, header.Number)
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth_getProof failed for message passer at block %d: %w", header.Number.Uint64(), err)
	}
	var version common.Hash // v0
	blockHash := header.Hash()
	return crypto.Keccak256Hash(version[:], header.Root[:], proof.StorageHash[:], blockHash[:]), nil
}

type outputResponse struct {
	Version    hexutil.Bytes `json:"version"`
	OutputRoot common.Hash   `json:"outputRoot"`
}
