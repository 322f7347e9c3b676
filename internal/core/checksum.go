// Checksum indexing for directory trees.
//
// INVARIANTS:
// - File contents are streamed, never loaded whole (TIFF scans can be
//   hundreds of MB)
// - Duplicate content is kept as a list, never collapsed
// - Unreadable files go to a separate set, never abort the walk
// - Cancellation is checked between files, not mid-file
package core

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// HashAlgorithm describes a configurable content-hash primitive. The
// checksum algorithm is a configuration choice, not a hardcoded fact.
type HashAlgorithm struct {
	Name string
	// DigestLen is the hex digest width (32 for md5, 64 for sha256).
	DigestLen int
	New       func() hash.Hash
}

// AlgorithmByName returns the hash algorithm for the given name.
func AlgorithmByName(name string) (*HashAlgorithm, error) {
	switch strings.ToLower(name) {
	case "md5":
		return &HashAlgorithm{Name: "md5", DigestLen: 32, New: md5.New}, nil
	case "sha256":
		return &HashAlgorithm{Name: "sha256", DigestLen: 64, New: sha256.New}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
}

// HashFile computes the streaming content hash of one file.
func (a *HashAlgorithm) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := a.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumIndex maps content hashes to the relative paths holding that
// content under one root.
type ChecksumIndex struct {
	Root      string
	Algorithm *HashAlgorithm
	byHash    map[string][]string
	byPath    map[string]string
	// Unreadable lists files that could not be hashed. They are excluded
	// from the index but reported, not treated as fatal.
	Unreadable []string
}

// IndexOptions tunes the index build.
type IndexOptions struct {
	// Exclude names directories skipped during the walk (e.g. "thumbs").
	Exclude []string
	// Workers bounds the hashing worker pool. Zero means 4.
	Workers int
}

const defaultHashWorkers = 4

// BuildIndex walks all regular files under root and computes a content
// hash for each. Hashing is parallel across files; the walk itself and
// result aggregation are serialized.
func BuildIndex(ctx context.Context, root string, algo *HashAlgorithm, opts IndexOptions) (*ChecksumIndex, error) {
	idx := &ChecksumIndex{
		Root:      root,
		Algorithm: algo,
		byHash:    make(map[string][]string),
		byPath:    make(map[string]string),
	}

	excluded := make(map[string]bool, len(opts.Exclude))
	for _, e := range opts.Exclude {
		excluded[e] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			idx.Unreadable = append(idx.Unreadable, relOrSelf(root, path))
			return nil
		}
		if d.IsDir() {
			if excluded[d.Name()] && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			// Symlinks and specials are distinct entity kinds, not content.
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultHashWorkers
	}

	type result struct {
		rel  string
		hash string
		err  error
	}

	work := make(chan string)
	results := make(chan result)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range work {
				h, err := algo.HashFile(path)
				results <- result{rel: relOrSelf(root, path), hash: h, err: err}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, f := range files {
			select {
			case <-ctx.Done():
				return
			case work <- f:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			idx.Unreadable = append(idx.Unreadable, r.rel)
			continue
		}
		idx.byHash[r.hash] = append(idx.byHash[r.hash], r.rel)
		idx.byPath[r.rel] = r.hash
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for h := range idx.byHash {
		sort.Strings(idx.byHash[h])
	}
	sort.Strings(idx.Unreadable)
	return idx, nil
}

// Lookup returns the relative paths whose content has the given hash.
func (ix *ChecksumIndex) Lookup(hash string) []string {
	return ix.byHash[hash]
}

// HashOf returns the content hash recorded for a relative path.
func (ix *ChecksumIndex) HashOf(rel string) (string, bool) {
	h, ok := ix.byPath[rel]
	return h, ok
}

// Len returns the number of indexed files.
func (ix *ChecksumIndex) Len() int {
	return len(ix.byPath)
}

// Duplicates returns the hash groups holding more than one path.
func (ix *ChecksumIndex) Duplicates() map[string][]string {
	dups := make(map[string][]string)
	for h, paths := range ix.byHash {
		if len(paths) > 1 {
			dups[h] = paths
		}
	}
	return dups
}

// SameContent reports whether two indexes describe identical content:
// the same multiset of hashes with the same multiplicity.
func (ix *ChecksumIndex) SameContent(other *ChecksumIndex) bool {
	if len(ix.byHash) != len(other.byHash) {
		return false
	}
	for h, paths := range ix.byHash {
		if len(other.byHash[h]) != len(paths) {
			return false
		}
	}
	return true
}

func relOrSelf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}
