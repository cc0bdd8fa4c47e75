package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/ioutil"
	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/ethereum-optimism/op-harness/harness/env"
	"github.com/ethereum-optimism/op-harness/harness/kv"
	"github.com/ethereum-optimism/op-harness/harness/oracle"
	"github.com/ethereum-optimism/op-harness/harness/readback"
)

// DefaultNetwork is used when no network is given on the command line.
const DefaultNetwork = "sepolia"

var OutFilePerm = os.FileMode(0o755)

var (
	RPCsEnvFlag = &cli.StringFlag{
		Name:    "rpcs-env",
		Usage:   "Env file defining L1_RPC, L2_RPC and optionally OP_NODE_RPC and OP_PROGRAM_DATA_DIR",
		Value:   "rpcs.env",
		EnvVars: []string{"RPCS_ENV"},
	}
	BlockEnvFlag = &cli.StringFlag{
		Name:    "block-env",
		Usage:   "Env file pinning the run to one L2 block. Generated from the latest finalized L2 block when unset.",
		EnvVars: []string{"FILENAME"},
	}
	ServerBinFlag = &cli.StringFlag{
		Name:    "server-bin",
		Usage:   "Path to the op-program binary to run in pre-image server mode",
		Value:   "./op-program",
		EnvVars: []string{"OP_PROGRAM_BIN"},
	}
	PreimageDirFlag = &cli.StringFlag{
		Name:  "preimage-db-dir",
		Usage: "Directory to store retrieved pre-images in (default: <datadir>/preimages)",
	}
	ReportFlag = &cli.StringFlag{
		Name:  "report",
		Usage: "Write a JSON report of the retrieved pre-images to this file, or to std-out if '-'",
	}
	LogLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "Log level: trace, debug, info, warn, error, crit. Passed through to op-program.",
		Value: "info",
	}
	PProfCPUFlag = &cli.BoolFlag{
		Name:  "pprof.cpu",
		Usage: "Profile CPU usage of the harness itself",
	}
)

func Run(ctx *cli.Context) error {
	if ctx.Bool(PProfCPUFlag.Name) {
		defer profile.Start(profile.NoShutdownHook, profile.ProfilePath("."), profile.CPUProfile).Stop()
	}
	lvl, err := ParseLogLevel(ctx.String(LogLevelFlag.Name))
	if err != nil {
		return err
	}
	l := Logger(os.Stderr, lvl)

	rpcCfg, err := env.LoadRPCs(ctx.String(RPCsEnvFlag.Name))
	if err != nil {
		return err
	}

	blockEnvPath, blockEnv, err := resolveBlockEnv(ctx.Context, l, rpcCfg, ctx.String(BlockEnvFlag.Name), ".")
	if err != nil {
		return err
	}

	dataDir := resolveDataDir(ctx.Args().Get(0), blockEnv, rpcCfg)
	if dataDir == "" {
		return cli.Exit("no data directory: pass one as the first argument or set OP_PROGRAM_DATA_DIR in an env file", 2)
	}
	network := resolveNetwork(ctx.Args().Get(1))
	l.Info("Running pre-image read-back",
		"network", network,
		"datadir", dataDir,
		"l2_block", blockEnv.L2BlockNumber,
		"block_env", blockEnvPath,
	)

	preimageDir := ctx.String(PreimageDirFlag.Name)
	if preimageDir == "" {
		preimageDir = filepath.Join(dataDir, "preimages")
	}
	store, err := kv.NewDirKV(preimageDir)
	if err != nil {
		return err
	}

	programCfg := &oracle.ProgramConfig{
		LogLevel: ctx.String(LogLevelFlag.Name),
		L1RPC:    rpcCfg.L1RPC,
		L2RPC:    rpcCfg.L2RPC,
		Network:  network,
		DataDir:  dataDir,
		Block:    blockEnv,
	}
	srv, err := oracle.StartServer(l, ctx.String(ServerBinFlag.Name), programCfg.ServerArgs())
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			l.Error("pre-image server did not shut down cleanly", "err", err)
		}
	}()

	report, err := readback.Run(l, blockEnv, store, srv)
	if err != nil {
		return srv.Guard(err)
	}
	if err := jsonutil.WriteJSON(report, ioutil.ToStdOutOrFileOrNoop(ctx.String(ReportFlag.Name), OutFilePerm)); err != nil {
		return err
	}
	l.Info("Pre-image read-back complete", "preimages", len(report.Preimages), "db", store.Dir())
	return nil
}

// resolveBlockEnv loads the block env file named by path. An empty path
// pins the run instead: a block env for the latest finalized L2 block is
// generated, once, under outDir and loaded from there.
func resolveBlockEnv(ctx context.Context, l log.Logger, rpcCfg *env.RPCConfig, path string, outDir string) (string, *env.BlockEnv, error) {
	if path == "" {
		generated, err := writeLatestBlockEnv(ctx, l, rpcCfg, outDir, "")
		if err != nil {
			return "", nil, err
		}
		path = generated
	}
	blockEnv, err := env.LoadBlockEnv(path)
	if err != nil {
		return "", nil, err
	}
	return path, blockEnv, nil
}

// resolveDataDir applies the data-dir fallback chain: positional argument,
// then the block env file, then the RPC env file.
func resolveDataDir(arg string, blockEnv *env.BlockEnv, rpcCfg *env.RPCConfig) string {
	if arg != "" {
		return arg
	}
	if blockEnv.DataDir != "" {
		return blockEnv.DataDir
	}
	return rpcCfg.DataDir
}

func resolveNetwork(arg string) string {
	if arg == "" {
		return DefaultNetwork
	}
	return arg
}

var RunCommand = &cli.Command{
	Name:        "run",
	Usage:       "Read pre-images back from op-program in server mode",
	Description: "Runs op-program as a pre-image server for one L2 block and verifies every boot pre-image it serves against the pinned block environment. Pre-images are stored under the pre-image DB dir.",
	ArgsUsage:   "[datadir] [network]",
	Action:      Run,
	Flags: []cli.Flag{
		RPCsEnvFlag,
		BlockEnvFlag,
		ServerBinFlag,
		PreimageDirFlag,
		ReportFlag,
		LogLevelFlag,
		PProfCPUFlag,
	},
}
