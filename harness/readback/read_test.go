package readback

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/ethereum-optimism/optimism/op-program/client"
	preimage "github.com/ethereum-optimism/optimism/op-preimage"
	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/op-harness/harness/env"
	"github.com/ethereum-optimism/op-harness/harness/kv"
)

// stubOracle serves pre-images from a map and records hints. Missing keys
// panic, like the real client does when the server cannot serve a request.
type stubOracle struct {
	preimages map[[32]byte][]byte
	hints     []string
}

func (s *stubOracle) Get(key preimage.Key) []byte {
	value, ok := s.preimages[key.PreimageKey()]
	if !ok {
		panic("unknown pre-image key")
	}
	return value
}

func (s *stubOracle) Hint(hint preimage.Hint) {
	s.hints = append(s.hints, hint.Hint())
}

func l1Header() *types.Header {
	return &types.Header{
		ParentHash:  common.Hash{0xaa, 0x01},
		UncleHash:   types.EmptyUncleHash,
		Root:        common.Hash{0xaa, 0x02},
		TxHash:      types.EmptyRootHash,
		ReceiptHash: types.EmptyRootHash,
		Difficulty:  common.Big0,
		Number:      big.NewInt(1000),
		GasLimit:    30_000_000,
		Time:        1_700_000_000,
		Extra:       []byte{},
	}
}

type fixture struct {
	blockEnv *env.BlockEnv
	oracle   *stubOracle
	store    *kv.DirKV
	logger   log.Logger
}

func setup(t *testing.T) *fixture {
	header := l1Header()
	headerRLP, err := rlp.EncodeToBytes(header)
	require.NoError(t, err)

	blockEnv := &env.BlockEnv{
		L1Head:             header.Hash(),
		L2Head:             common.Hash{0x2b},
		StartingOutputRoot: common.Hash{0x3c},
		L2Claim:            common.Hash{0x4d},
		L2BlockNumber:      12345,
	}
	o := &stubOracle{preimages: map[[32]byte][]byte{
		client.L1HeadLocalIndex.PreimageKey():             blockEnv.L1Head[:],
		client.L2OutputRootLocalIndex.PreimageKey():       blockEnv.StartingOutputRoot[:],
		client.L2ClaimLocalIndex.PreimageKey():            blockEnv.L2Claim[:],
		client.L2ClaimBlockNumberLocalIndex.PreimageKey(): binary.BigEndian.AppendUint64(nil, blockEnv.L2BlockNumber),
		preimage.Keccak256Key(blockEnv.L1Head).PreimageKey(): headerRLP,
	}}
	store, err := kv.NewDirKV(t.TempDir())
	require.NoError(t, err)
	return &fixture{
		blockEnv: blockEnv,
		oracle:   o,
		store:    store,
		logger:   testlog.Logger(t, log.LevelDebug),
	}
}

func TestRun(t *testing.T) {
	f := setup(t)
	report, err := Run(f.logger, f.blockEnv, f.store, f.oracle)
	require.NoError(t, err)

	require.Equal(t, f.blockEnv.L2BlockNumber, report.L2BlockNumber)
	require.Len(t, report.Preimages, 5)
	names := make([]string, 0, len(report.Preimages))
	for _, entry := range report.Preimages {
		names = append(names, entry.Name)
	}
	require.Equal(t, []string{
		"l1-head", "starting-output-root", "l2-claim", "l2-claim-block-number", "l1-head-header",
	}, names)

	// the header was hinted before being fetched
	require.Equal(t, []string{BlockHeaderHint(f.blockEnv.L1Head).Hint()}, f.oracle.hints)

	// everything the server sent is now in the store
	for _, entry := range report.Preimages {
		value, err := f.store.Get(entry.Key)
		require.NoError(t, err)
		require.Equal(t, entry.Size, uint64(len(value)))
	}
}

func TestRunLocalMismatch(t *testing.T) {
	f := setup(t)
	f.oracle.preimages[client.L2ClaimLocalIndex.PreimageKey()] = common.Hash{0xff}.Bytes()

	_, err := Run(f.logger, f.blockEnv, f.store, f.oracle)
	require.ErrorContains(t, err, "local pre-image l2-claim mismatch")
}

func TestRunServerFailure(t *testing.T) {
	f := setup(t)
	delete(f.oracle.preimages, client.L1HeadLocalIndex.PreimageKey())

	_, err := Run(f.logger, f.blockEnv, f.store, f.oracle)
	require.ErrorContains(t, err, "failed to read local pre-image l1-head")
}

func TestRunBadKeccakPreimage(t *testing.T) {
	f := setup(t)
	f.oracle.preimages[preimage.Keccak256Key(f.blockEnv.L1Head).PreimageKey()] = []byte("not the header")

	_, err := Run(f.logger, f.blockEnv, f.store, f.oracle)
	require.ErrorContains(t, err, "does not hash back to its key")
}

func TestRunNonHeaderKeccakPreimage(t *testing.T) {
	f := setup(t)
	// a value that matches some keccak key but is not a header
	junk := []byte("junk bytes")
	f.blockEnv.L1Head = crypto.Keccak256Hash(junk)
	f.oracle.preimages[client.L1HeadLocalIndex.PreimageKey()] = f.blockEnv.L1Head[:]
	f.oracle.preimages[preimage.Keccak256Key(f.blockEnv.L1Head).PreimageKey()] = junk

	_, err := Run(f.logger, f.blockEnv, f.store, f.oracle)
	require.ErrorContains(t, err, "not an RLP block header")
}

func TestBlockHeaderHint(t *testing.T) {
	h := common.Hash{0x7e}
	require.Equal(t, "l1-block-header "+h.Hex(), BlockHeaderHint(h).Hint())
}
