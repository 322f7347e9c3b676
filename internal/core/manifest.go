// Line-oriented checksum manifest handling.
//
// INVARIANTS:
// - Lines that do not parse are preserved verbatim in position, never
//   silently dropped or corrupted
// - A no-op update leaves the file byte-identical and creates no backup
// - Saves are atomic (temp file + rename); the previous version is
//   backed up once per run before the first successful write
package core

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arcmig/arcmig/internal/model"
)

// manifestLine is one physical line. entry is nil for passthrough
// lines. cr records a CRLF ending so saves keep the file's original
// line terminators byte for byte.
type manifestLine struct {
	raw   string
	cr    bool
	entry *model.ManifestEntry
}

// Manifest is an in-memory checksum manifest bound to its on-disk path.
// Manifest paths are logical: lookups are exact string matches, not
// filesystem checks.
type Manifest struct {
	path      string
	digestLen int
	lines     []manifestLine
	// trailingNewline records whether the file ended with a newline so a
	// zero-rewrite round trip stays byte-identical.
	trailingNewline bool
	dirty           bool
	backedUp        bool
}

// LoadManifest parses a manifest file. digestLen is the hex digest width
// of the configured algorithm; a line whose digest has any other width
// is treated as passthrough.
func LoadManifest(path string, digestLen int) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	m := &Manifest{path: path, digestLen: digestLen, trailingNewline: true}

	r := bufio.NewReaderSize(f, 64*1024)
	lineNo := 0
	for {
		raw, err := r.ReadString('\n')
		if raw != "" {
			raw = strings.TrimSuffix(raw, "\n")
			ml := manifestLine{raw: strings.TrimSuffix(raw, "\r")}
			ml.cr = len(ml.raw) < len(raw)
			if e := parseManifestLine(ml.raw, digestLen, lineNo); e != nil {
				ml.entry = e
			}
			m.lines = append(m.lines, ml)
			lineNo++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
	}

	// The read loop hides the final newline; check it directly.
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		buf := make([]byte, 1)
		if _, err := f.ReadAt(buf, info.Size()-1); err == nil {
			m.trailingNewline = buf[0] == '\n'
		}
	}
	return m, nil
}

// NewManifest returns an empty manifest bound to path.
func NewManifest(path string, digestLen int) *Manifest {
	return &Manifest{path: path, digestLen: digestLen, trailingNewline: true}
}

func parseManifestLine(raw string, digestLen, lineNo int) *model.ManifestEntry {
	if len(raw) < digestLen+2 {
		return nil
	}
	digest := raw[:digestLen]
	for _, c := range digest {
		if !isHexDigit(c) {
			return nil
		}
	}
	rest := raw[digestLen:]
	trimmed := strings.TrimLeft(rest, " \t")
	if trimmed == rest || trimmed == "" {
		return nil
	}
	return &model.ManifestEntry{Hash: strings.ToLower(digest), Path: trimmed, Line: lineNo}
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Path returns the on-disk location the manifest was loaded from.
func (m *Manifest) Path() string { return m.path }

// Len returns the number of physical lines, parsed or passthrough.
func (m *Manifest) Len() int { return len(m.lines) }

// Entries returns the parsed entries in file order.
func (m *Manifest) Entries() []model.ManifestEntry {
	var out []model.ManifestEntry
	for _, l := range m.lines {
		if l.entry != nil {
			out = append(out, *l.entry)
		}
	}
	return out
}

// FindByPath returns the entry whose recorded path matches exactly.
func (m *Manifest) FindByPath(path string) *model.ManifestEntry {
	for _, l := range m.lines {
		if l.entry != nil && l.entry.Path == path {
			e := *l.entry
			return &e
		}
	}
	return nil
}

// FindByPrefix returns all entries whose recorded path starts with
// prefix, used when relocating an entire subtree.
func (m *Manifest) FindByPrefix(prefix string) []model.ManifestEntry {
	var out []model.ManifestEntry
	for _, l := range m.lines {
		if l.entry != nil && strings.HasPrefix(l.entry.Path, prefix) {
			out = append(out, *l.entry)
		}
	}
	return out
}

// FindByHash returns all entries recording the given content hash.
func (m *Manifest) FindByHash(hash string) []model.ManifestEntry {
	hash = strings.ToLower(hash)
	var out []model.ManifestEntry
	for _, l := range m.lines {
		if l.entry != nil && l.entry.Hash == hash {
			out = append(out, *l.entry)
		}
	}
	return out
}

// Rewrite replaces the path portion of entries matching oldPath exactly,
// preserving the hash and every other line verbatim. It returns the
// number of rewritten entries; zero is a logged no-op, never an error.
func (m *Manifest) Rewrite(oldPath, newPath string) int {
	count := 0
	for i := range m.lines {
		l := &m.lines[i]
		if l.entry == nil || l.entry.Path != oldPath {
			continue
		}
		m.rewriteLine(l, newPath)
		count++
	}
	if count > 0 {
		m.dirty = true
	}
	return count
}

// RewritePrefix rewrites the leading oldPrefix of every matching entry
// path to newPrefix, relocating a whole subtree in one pass.
func (m *Manifest) RewritePrefix(oldPrefix, newPrefix string) int {
	count := 0
	for i := range m.lines {
		l := &m.lines[i]
		if l.entry == nil || !strings.HasPrefix(l.entry.Path, oldPrefix) {
			continue
		}
		m.rewriteLine(l, newPrefix+l.entry.Path[len(oldPrefix):])
		count++
	}
	if count > 0 {
		m.dirty = true
	}
	return count
}

// rewriteLine swaps the path portion while keeping the original digest
// text and separator bytes untouched.
func (m *Manifest) rewriteLine(l *manifestLine, newPath string) {
	sep := l.raw[m.digestLen : len(l.raw)-len(l.entry.Path)]
	l.raw = l.raw[:m.digestLen] + sep + newPath
	l.entry.Path = newPath
}

// Remove deletes the full line recording path. It returns true when an
// entry was removed; a zero-match remove is a no-op.
func (m *Manifest) Remove(path string) bool {
	for i := range m.lines {
		if m.lines[i].entry != nil && m.lines[i].entry.Path == path {
			m.lines = append(m.lines[:i], m.lines[i+1:]...)
			m.renumber()
			m.dirty = true
			return true
		}
	}
	return false
}

// Append records a new (hash, path) entry at the end of the manifest.
func (m *Manifest) Append(hash, path string) {
	raw := strings.ToLower(hash) + "  " + path
	m.lines = append(m.lines, manifestLine{
		raw:   raw,
		entry: &model.ManifestEntry{Hash: strings.ToLower(hash), Path: path, Line: len(m.lines)},
	})
	m.dirty = true
}

func (m *Manifest) renumber() {
	for i := range m.lines {
		if m.lines[i].entry != nil {
			m.lines[i].entry.Line = i
		}
	}
}

// Dirty reports whether the manifest differs from its on-disk form.
func (m *Manifest) Dirty() bool { return m.dirty }

// Save writes the manifest atomically: contents go to a temp file in the
// same directory, then rename over the original. When nothing changed,
// Save does not touch the disk at all, so no-op runs leave the file
// byte-identical and create no backup.
func (m *Manifest) Save() error {
	if !m.dirty {
		return nil
	}

	if !m.backedUp {
		if err := m.backup(); err != nil {
			return err
		}
		m.backedUp = true
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for i, l := range m.lines {
		text := l.raw
		if l.cr {
			text += "\r"
		}
		if i < len(m.lines)-1 || m.trailingNewline {
			text += "\n"
		}
		if _, err := w.WriteString(text); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write manifest: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	m.dirty = false
	return nil
}

// backup copies the current on-disk manifest to a timestamped sibling.
// Missing originals (first save of a new manifest) are fine.
func (m *Manifest) backup() error {
	src, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open manifest for backup: %w", err)
	}
	defer src.Close()

	backupPath := fmt.Sprintf("%s.bak.%s", m.path, time.Now().Format("20060102_150405"))
	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("failed to create manifest backup: %w", err)
	}
	defer dst.Close()

	if _, err := dst.ReadFrom(src); err != nil {
		return fmt.Errorf("failed to write manifest backup: %w", err)
	}
	return nil
}
