package core

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/arcmig/arcmig/internal/model"
)

// MappingOptions describes the column contract of a migration CSV. The
// engine only requires id;old_signature;new_signature;extra columns;
// the caller owns the schema.
type MappingOptions struct {
	// Delimiter is the field separator; zero means ';'.
	Delimiter rune
	// HasHeader skips the first record.
	HasHeader bool
}

// LoadMappings reads raw migration rows from a semicolon- or
// comma-delimited file. Rows are returned un-normalized; validation and
// normalization happen in the planner so that bad rows end up in the
// rejected report instead of vanishing here.
func LoadMappings(path string, opts MappingOptions) ([]model.MigrationEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping file: %w", err)
	}
	defer f.Close()
	return ReadMappings(f, opts)
}

// ReadMappings parses migration rows from r.
func ReadMappings(r io.Reader, opts MappingOptions) ([]model.MigrationEntry, error) {
	delim := opts.Delimiter
	if delim == 0 {
		delim = ';'
	}

	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var entries []model.MigrationEntry
	first := true
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse mapping row: %w", err)
		}
		if first && opts.HasHeader {
			first = false
			continue
		}
		first = false

		e := model.MigrationEntry{}
		if len(record) > 0 {
			e.ID = strings.TrimSpace(record[0])
		}
		if len(record) > 1 {
			e.RawOld = strings.TrimSpace(record[1])
		}
		if len(record) > 2 {
			e.RawNew = strings.TrimSpace(record[2])
		}
		if len(record) > 3 {
			// Every remaining column is free-text review material.
			e.Extra = strings.TrimSpace(strings.Join(record[3:], " "))
		}
		if e.ID == "" && e.RawOld == "" && e.RawNew == "" && e.Extra == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
