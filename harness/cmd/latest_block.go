package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/op-harness/harness/chain"
	"github.com/ethereum-optimism/op-harness/harness/env"
)

var (
	OutDirFlag = &cli.StringFlag{
		Name:  "out-dir",
		Usage: "Directory to write the generated block env file to",
		Value: ".",
	}
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "OP_PROGRAM_DATA_DIR value to embed in the env file (default: op-program-db-<block>)",
	}
)

func LatestBlock(ctx *cli.Context) error {
	lvl, err := ParseLogLevel(ctx.String(LogLevelFlag.Name))
	if err != nil {
		return err
	}
	l := Logger(os.Stderr, lvl)

	rpcCfg, err := env.LoadRPCs(ctx.String(RPCsEnvFlag.Name))
	if err != nil {
		return err
	}
	path, err := writeLatestBlockEnv(ctx.Context, l, rpcCfg, ctx.String(OutDirFlag.Name), ctx.String(DataDirFlag.Name))
	if err != nil {
		return err
	}
	// the path is the command's output, for shell wrappers to capture
	fmt.Println(path)
	return nil
}

// writeLatestBlockEnv pins a block env to the latest finalized L2 block and
// writes it to outDir, returning the file path.
func writeLatestBlockEnv(ctx context.Context, l log.Logger, rpcCfg *env.RPCConfig, outDir string, dataDir string) (string, error) {
	client, err := chain.Dial(ctx, l, rpcCfg)
	if err != nil {
		return "", err
	}
	defer client.Close()

	blockEnv, err := client.LatestL2BlockEnv(ctx)
	if err != nil {
		return "", err
	}
	blockEnv.DataDir = dataDir
	if blockEnv.DataDir == "" {
		blockEnv.DataDir = fmt.Sprintf("op-program-db-%d", blockEnv.L2BlockNumber)
	}
	path := filepath.Join(outDir, env.FileName(blockEnv.L2BlockNumber))
	if err := blockEnv.Write(path); err != nil {
		return "", err
	}
	l.Info("Wrote block env file", "file", path, "l2_block", blockEnv.L2BlockNumber)
	return path, nil
}

var LatestBlockCommand = &cli.Command{
	Name:        "latest-block",
	Usage:       "Generate an env file for the latest finalized L2 block",
	Description: "Queries the configured RPC endpoints and writes an env file pinning a run to the latest finalized L2 block: its claimed output root, the agreed parent state, and a finalized L1 head. The file path is printed to std-out.",
	Action:      LatestBlock,
	Flags: []cli.Flag{
		RPCsEnvFlag,
		OutDirFlag,
		DataDirFlag,
		LogLevelFlag,
	},
}
