// Package kv stores retrieved pre-images on disk, one file per key, in the
// same flat hex layout op-program uses for its data directory.
package kv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrNotFound = errors.New("pre-image not found")

var filePerm = os.FileMode(0o644)

// DirKV is a directory-backed pre-image store: each pre-image lives in
// <dir>/<key-hex>.txt as 0x-prefixed hex. Values are immutable once written;
// re-putting a key overwrites with identical content.
type DirKV struct {
	dir string
}

func NewDirKV(dir string) (*DirKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create pre-image dir %q: %w", dir, err)
	}
	return &DirKV{dir: dir}, nil
}

func (d *DirKV) Dir() string {
	return d.dir
}

func (d *DirKV) Put(key common.Hash, value []byte) error {
	tmp, err := os.CreateTemp(d.dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp pre-image file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(hexutil.Encode(value)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write pre-image %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close pre-image file for %s: %w", key, err)
	}
	// CreateTemp restricts to 0600; the dir is handed to op-program later
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		return fmt.Errorf("failed to chmod pre-image file for %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), d.pathFor(key)); err != nil {
		return fmt.Errorf("failed to store pre-image %s: %w", key, err)
	}
	return nil
}

func (d *DirKV) Get(key common.Hash) ([]byte, error) {
	data, err := os.ReadFile(d.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pre-image %s: %w", key, err)
	}
	value, err := hexutil.Decode(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("corrupt pre-image file for %s: %w", key, err)
	}
	return value, nil
}

func (d *DirKV) pathFor(key common.Hash) string {
	return filepath.Join(d.dir, key.String()+".txt")
}
