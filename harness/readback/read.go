// Package readback exercises a running op-program pre-image server: it
// fetches the local boot inputs and the L1 head block header through the
// oracle, checks them against the pinned block environment, and persists
// every retrieved pre-image.
package readback

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum-optimism/optimism/op-program/client"
	preimage "github.com/ethereum-optimism/optimism/op-preimage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ethereum-optimism/op-harness/harness/env"
	"github.com/ethereum-optimism/op-harness/harness/kv"
)

// Oracle is the pre-image server surface the read-back exercises.
// oracle.ServerProcess implements it.
type Oracle interface {
	Get(key preimage.Key) []byte
	Hint(hint preimage.Hint)
}

// BlockHeaderHint asks the server to prepare an L1 block header pre-image,
// the same hint op-program's client side sends.
type BlockHeaderHint common.Hash

func (h BlockHeaderHint) Hint() string {
	return "l1-block-header " + common.Hash(h).Hex()
}

// Entry records one successfully read pre-image.
type Entry struct {
	Name string      `json:"name"`
	Key  common.Hash `json:"key"`
	Size uint64      `json:"size"`
}

type Report struct {
	L2BlockNumber uint64  `json:"l2BlockNumber"`
	Preimages     []Entry `json:"preimages"`
}

// Run performs the read-back against a live server. Every fetched pre-image
// is checked against the block env and stored in the given store before the
// next one is requested.
func Run(logger log.Logger, blockEnv *env.BlockEnv, store *kv.DirKV, o Oracle) (*Report, error) {
	report := &Report{L2BlockNumber: blockEnv.L2BlockNumber}

	locals := []struct {
		name string
		key  preimage.Key
		want []byte
	}{
		{"l1-head", client.L1HeadLocalIndex, blockEnv.L1Head[:]},
		{"starting-output-root", client.L2OutputRootLocalIndex, blockEnv.StartingOutputRoot[:]},
		{"l2-claim", client.L2ClaimLocalIndex, blockEnv.L2Claim[:]},
		{"l2-claim-block-number", client.L2ClaimBlockNumberLocalIndex, binary.BigEndian.AppendUint64(nil, blockEnv.L2BlockNumber)},
	}

	for _, local := range locals {
		value, err := fetch(o, local.key)
		if err != nil {
			return nil, fmt.Errorf("failed to read local pre-image %s: %w", local.name, err)
		}
		if !bytes.Equal(value, local.want) {
			return nil, fmt.Errorf("local pre-image %s mismatch: server sent %x, block env has %x", local.name, value, local.want)
		}
		entry, err := persist(store, local.name, local.key, value)
		if err != nil {
			return nil, err
		}
		logger.Info("Read local pre-image", "name", local.name, "key", entry.Key, "size", entry.Size)
		report.Preimages = append(report.Preimages, entry)
	}

	entry, err := readL1HeadHeader(o, store, blockEnv.L1Head)
	if err != nil {
		return nil, err
	}
	logger.Info("Read L1 head header pre-image", "key", entry.Key, "size", entry.Size)
	report.Preimages = append(report.Preimages, entry)

	return report, nil
}

// readL1HeadHeader hints and fetches the keccak pre-image of the L1 head,
// then checks the content-addressing invariant both ways: the value hashes
// back to the key, and decodes to a header with that hash.
func readL1HeadHeader(o Oracle, store *kv.DirKV, l1Head common.Hash) (Entry, error) {
	if err := hint(o, BlockHeaderHint(l1Head)); err != nil {
		return Entry{}, fmt.Errorf("failed to hint L1 head header: %w", err)
	}
	key := preimage.Keccak256Key(l1Head)
	value, err := fetch(o, key)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read L1 head header pre-image: %w", err)
	}
	if h := crypto.Keccak256Hash(value); h != l1Head {
		return Entry{}, fmt.Errorf("L1 head pre-image does not hash back to its key: got %s, want %s", h, l1Head)
	}
	var header types.Header
	if err := rlp.DecodeBytes(value, &header); err != nil {
		return Entry{}, fmt.Errorf("L1 head pre-image is not an RLP block header: %w", err)
	}
	if got := header.Hash(); got != l1Head {
		return Entry{}, fmt.Errorf("decoded L1 header hashes to %s, want %s", got, l1Head)
	}
	return persist(store, "l1-head-header", key, value)
}

// persist stores a pre-image and reads it straight back, so a run only
// reports pre-images that are durably usable as an op-program data dir.
func persist(store *kv.DirKV, name string, key preimage.Key, value []byte) (Entry, error) {
	dbKey := common.Hash(key.PreimageKey())
	if err := store.Put(dbKey, value); err != nil {
		return Entry{}, fmt.Errorf("failed to persist pre-image %s: %w", name, err)
	}
	stored, err := store.Get(dbKey)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read back stored pre-image %s: %w", name, err)
	}
	if !bytes.Equal(stored, value) {
		return Entry{}, fmt.Errorf("stored pre-image %s does not match what the server sent", name)
	}
	return Entry{Name: name, Key: dbKey, Size: uint64(len(value))}, nil
}

// fetch wraps Oracle.Get, converting the channel-failure panics of the
// op-preimage client into errors.
func fetch(o Oracle, key preimage.Key) (value []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pre-image fetch panicked: %v", r)
		}
	}()
	return o.Get(key), nil
}

func hint(o Oracle, h preimage.Hint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hint write panicked: %v", r)
		}
	}()
	o.Hint(h)
	return nil
}
