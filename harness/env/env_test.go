package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRPCs(t *testing.T) {
	t.Run("Complete", func(t *testing.T) {
		path := writeFile(t, "rpcs.env", strings.Join([]string{
			"L1_RPC=https://l1.example.com",
			"L2_RPC=https://l2.example.com",
			"OP_NODE_RPC=https://op-node.example.com",
			"OP_PROGRAM_DATA_DIR=/tmp/op-program-db",
		}, "\n"))
		cfg, err := LoadRPCs(path)
		require.NoError(t, err)
		require.Equal(t, "https://l1.example.com", cfg.L1RPC)
		require.Equal(t, "https://l2.example.com", cfg.L2RPC)
		require.Equal(t, "https://op-node.example.com", cfg.OpNodeRPC)
		require.Equal(t, "/tmp/op-program-db", cfg.DataDir)
	})

	t.Run("OpNodeOptional", func(t *testing.T) {
		path := writeFile(t, "rpcs.env", "L1_RPC=https://l1\nL2_RPC=https://l2\n")
		cfg, err := LoadRPCs(path)
		require.NoError(t, err)
		require.Empty(t, cfg.OpNodeRPC)
	})

	t.Run("MissingL1", func(t *testing.T) {
		path := writeFile(t, "rpcs.env", "L2_RPC=https://l2\n")
		_, err := LoadRPCs(path)
		require.ErrorContains(t, err, "missing L1_RPC")
	})

	t.Run("MissingL2", func(t *testing.T) {
		path := writeFile(t, "rpcs.env", "L1_RPC=https://l1\n")
		_, err := LoadRPCs(path)
		require.ErrorContains(t, err, "missing L2_RPC")
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadRPCs(filepath.Join(t.TempDir(), "nope.env"))
		require.ErrorContains(t, err, "failed to read RPC env file")
	})
}

func validBlockEnvContent() []string {
	return []string{
		"L1_HEAD=" + common.Hash{0x1a}.Hex(),
		"L2_HEAD=" + common.Hash{0x2b}.Hex(),
		"STARTING_OUTPUT_ROOT=" + common.Hash{0x3c}.Hex(),
		"L2_CLAIM=" + common.Hash{0x4d}.Hex(),
		"L2_BLOCK_NUMBER=12345",
	}
}

func TestLoadBlockEnv(t *testing.T) {
	t.Run("Complete", func(t *testing.T) {
		lines := append(validBlockEnvContent(), "OP_PROGRAM_DATA_DIR=op-program-db-12345")
		path := writeFile(t, "block.env", strings.Join(lines, "\n"))
		b, err := LoadBlockEnv(path)
		require.NoError(t, err)
		require.Equal(t, common.Hash{0x1a}, b.L1Head)
		require.Equal(t, common.Hash{0x2b}, b.L2Head)
		require.Equal(t, common.Hash{0x3c}, b.StartingOutputRoot)
		require.Equal(t, common.Hash{0x4d}, b.L2Claim)
		require.Equal(t, uint64(12345), b.L2BlockNumber)
		require.Equal(t, "op-program-db-12345", b.DataDir)
	})

	t.Run("DataDirOptional", func(t *testing.T) {
		path := writeFile(t, "block.env", strings.Join(validBlockEnvContent(), "\n"))
		b, err := LoadBlockEnv(path)
		require.NoError(t, err)
		require.Empty(t, b.DataDir)
	})

	t.Run("MissingKeys", func(t *testing.T) {
		for i, key := range []string{"L1_HEAD", "L2_HEAD", "STARTING_OUTPUT_ROOT", "L2_CLAIM", "L2_BLOCK_NUMBER"} {
			key := key
			lines := validBlockEnvContent()
			lines = append(lines[:i], lines[i+1:]...)
			t.Run(key, func(t *testing.T) {
				path := writeFile(t, "block.env", strings.Join(lines, "\n"))
				_, err := LoadBlockEnv(path)
				require.ErrorContains(t, err, "missing "+key)
			})
		}
	})

	t.Run("TruncatedHash", func(t *testing.T) {
		lines := validBlockEnvContent()
		lines[0] = "L1_HEAD=0x1a2b"
		path := writeFile(t, "block.env", strings.Join(lines, "\n"))
		_, err := LoadBlockEnv(path)
		require.ErrorIs(t, err, errInvalidHashLength)
	})

	t.Run("NotHex", func(t *testing.T) {
		lines := validBlockEnvContent()
		lines[3] = "L2_CLAIM=hello"
		path := writeFile(t, "block.env", strings.Join(lines, "\n"))
		_, err := LoadBlockEnv(path)
		require.ErrorContains(t, err, "bad L2_CLAIM value")
	})

	t.Run("NonDecimalBlockNumber", func(t *testing.T) {
		lines := validBlockEnvContent()
		lines[4] = "L2_BLOCK_NUMBER=0x3039"
		path := writeFile(t, "block.env", strings.Join(lines, "\n"))
		_, err := LoadBlockEnv(path)
		require.ErrorContains(t, err, "bad L2_BLOCK_NUMBER value")
	})
}

func TestBlockEnvWriteRoundTrip(t *testing.T) {
	b := &BlockEnv{
		L1Head:             common.Hash{0xaa, 0x01},
		L2Head:             common.Hash{0xbb, 0x02},
		StartingOutputRoot: common.Hash{0xcc, 0x03},
		L2Claim:            common.Hash{0xdd, 0x04},
		L2BlockNumber:      987654321,
		DataDir:            "op-program-db-987654321",
	}
	path := filepath.Join(t.TempDir(), FileName(b.L2BlockNumber))
	require.NoError(t, b.Write(path))

	loaded, err := LoadBlockEnv(path)
	require.NoError(t, err)
	require.Equal(t, b, loaded)
}

func TestFileName(t *testing.T) {
	require.Equal(t, "env-for-l2-block-42.env", FileName(42))
}
