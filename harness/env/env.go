// Package env resolves the environment files that configure an op-program
// harness run: the RPC endpoint file and the per-block environment file
// naming the claimed L2 block and its pre-state.
package env

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/joho/godotenv"
)

const (
	KeyL1RPC              = "L1_RPC"
	KeyL2RPC              = "L2_RPC"
	KeyOpNodeRPC          = "OP_NODE_RPC"
	KeyOpProgramDataDir   = "OP_PROGRAM_DATA_DIR"
	KeyL1Head             = "L1_HEAD"
	KeyL2Head             = "L2_HEAD"
	KeyStartingOutputRoot = "STARTING_OUTPUT_ROOT"
	KeyL2Claim            = "L2_CLAIM"
	KeyL2BlockNumber      = "L2_BLOCK_NUMBER"
)

// RPCConfig holds the chain endpoints sourced from the RPC env file.
// OpNodeRPC is optional: without it, output roots are computed from L2
// state proofs instead of being fetched from a rollup node.
type RPCConfig struct {
	L1RPC     string
	L2RPC     string
	OpNodeRPC string

	// DataDir is the OP_PROGRAM_DATA_DIR fallback when neither the CLI
	// nor the block env file names one.
	DataDir string
}

func (c *RPCConfig) Check() error {
	if c.L1RPC == "" {
		return fmt.Errorf("missing %s", KeyL1RPC)
	}
	if c.L2RPC == "" {
		return fmt.Errorf("missing %s", KeyL2RPC)
	}
	return nil
}

// LoadRPCs reads the RPC env file (shell-style KEY=value pairs).
func LoadRPCs(path string) (*RPCConfig, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read RPC env file %q: %w", path, err)
	}
	cfg := &RPCConfig{
		L1RPC:     vals[KeyL1RPC],
		L2RPC:     vals[KeyL2RPC],
		OpNodeRPC: vals[KeyOpNodeRPC],
		DataDir:   vals[KeyOpProgramDataDir],
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid RPC env file %q: %w", path, err)
	}
	return cfg, nil
}

// BlockEnv is the chain state an op-program run is pinned to: the agreed
// pre-state (L2Head, StartingOutputRoot), the claim being checked (L2Claim
// at L2BlockNumber), and the L1 head the derivation may read up to.
type BlockEnv struct {
	L1Head             common.Hash
	L2Head             common.Hash
	StartingOutputRoot common.Hash
	L2Claim            common.Hash
	L2BlockNumber      uint64

	// DataDir is optional; the CLI falls back to the RPC env file default
	// when it is empty.
	DataDir string
}

func (b *BlockEnv) Check() error {
	if b.L1Head == (common.Hash{}) {
		return fmt.Errorf("missing %s", KeyL1Head)
	}
	if b.L2Head == (common.Hash{}) {
		return fmt.Errorf("missing %s", KeyL2Head)
	}
	if b.StartingOutputRoot == (common.Hash{}) {
		return fmt.Errorf("missing %s", KeyStartingOutputRoot)
	}
	if b.L2Claim == (common.Hash{}) {
		return fmt.Errorf("missing %s", KeyL2Claim)
	}
	if b.L2BlockNumber == 0 {
		return fmt.Errorf("missing %s", KeyL2BlockNumber)
	}
	return nil
}

// LoadBlockEnv reads and validates a block env file.
func LoadBlockEnv(path string) (*BlockEnv, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read block env file %q: %w", path, err)
	}
	b := &BlockEnv{DataDir: vals[KeyOpProgramDataDir]}
	if b.L1Head, err = hashValue(vals, KeyL1Head); err != nil {
		return nil, fmt.Errorf("invalid block env file %q: %w", path, err)
	}
	if b.L2Head, err = hashValue(vals, KeyL2Head); err != nil {
		return nil, fmt.Errorf("invalid block env file %q: %w", path, err)
	}
	if b.StartingOutputRoot, err = hashValue(vals, KeyStartingOutputRoot); err != nil {
		return nil, fmt.Errorf("invalid block env file %q: %w", path, err)
	}
	if b.L2Claim, err = hashValue(vals, KeyL2Claim); err != nil {
		return nil, fmt.Errorf("invalid block env file %q: %w", path, err)
	}
	num, ok := vals[KeyL2BlockNumber]
	if !ok {
		return nil, fmt.Errorf("invalid block env file %q: missing %s", path, KeyL2BlockNumber)
	}
	if b.L2BlockNumber, err = strconv.ParseUint(num, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid block env file %q: bad %s value %q: %w", path, KeyL2BlockNumber, num, err)
	}
	if err := b.Check(); err != nil {
		return nil, fmt.Errorf("invalid block env file %q: %w", path, err)
	}
	return b, nil
}

// Write persists the block env as a shell-compatible env file, so the same
// file sources cleanly from both the harness and shell tooling.
func (b *BlockEnv) Write(path string) error {
	vals := map[string]string{
		KeyL1Head:             b.L1Head.Hex(),
		KeyL2Head:             b.L2Head.Hex(),
		KeyStartingOutputRoot: b.StartingOutputRoot.Hex(),
		KeyL2Claim:            b.L2Claim.Hex(),
		KeyL2BlockNumber:      strconv.FormatUint(b.L2BlockNumber, 10),
	}
	if b.DataDir != "" {
		vals[KeyOpProgramDataDir] = b.DataDir
	}
	if err := godotenv.Write(vals, path); err != nil {
		return fmt.Errorf("failed to write block env file %q: %w", path, err)
	}
	return nil
}

// FileName is the conventional name for a generated block env file.
func FileName(l2BlockNumber uint64) string {
	return fmt.Sprintf("env-for-l2-block-%d.env", l2BlockNumber)
}

func hashValue(vals map[string]string, key string) (common.Hash, error) {
	v, ok := vals[key]
	if !ok {
		return common.Hash{}, fmt.Errorf("missing %s", key)
	}
	data, err := hexutil.Decode(v)
	if err != nil {
		return common.Hash{}, fmt.Errorf("bad %s value %q: %w", key, v, err)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("bad %s value %q: %w", key, v, errInvalidHashLength)
	}
	return common.BytesToHash(data), nil
}

var errInvalidHashLength = errors.New("not a 32-byte hash")
