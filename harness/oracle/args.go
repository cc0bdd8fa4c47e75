package oracle

import (
	"strconv"

	"github.com/ethereum-optimism/op-harness/harness/env"
)

// ProgramConfig carries everything needed to build the op-program server
// command line for one pinned block.
type ProgramConfig struct {
	LogLevel string
	L1RPC    string
	L2RPC    string
	Network  string
	DataDir  string
	Block    *env.BlockEnv
}

// ServerArgs renders the op-program argument vector for --server mode.
func (c *ProgramConfig) ServerArgs() []string {
	return []string{
		"--log.level", c.LogLevel,
		"--l1", c.L1RPC,
		"--l2", c.L2RPC,
		"--network", c.Network,
		"--datadir", c.DataDir,
		"--l1.head", c.Block.L1Head.Hex(),
		"--l2.head", c.Block.L2Head.Hex(),
		"--l2.outputroot", c.Block.StartingOutputRoot.Hex(),
		"--l2.claim", c.Block.L2Claim.Hex(),
		"--l2.blocknumber", strconv.FormatUint(c.Block.L2BlockNumber, 10),
		"--server",
	}
}
