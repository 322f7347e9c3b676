// Package config loads the arcmig INI configuration.
//
// One file describes a migration site: the storage roots with their
// roles, the manifest location and the knobs for hashing, auditing,
// transfer and the run journal. Storage roots live in `root:NAME`
// sections and keep their file order, because the first data root is
// the reference location for stem matching.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ini/ini"

	"github.com/arcmig/arcmig/internal/model"
)

// MappingConfig controls how migration sheets are parsed.
type MappingConfig struct {
	Delimiter rune
	HasHeader bool
}

// AuditConfig controls the two-tier tree comparison.
type AuditConfig struct {
	Exclude        []string
	PlaceholderMax int64
	SampleSize     int
	Workers        int
}

// TransferConfig selects how cross-device moves are carried out.
type TransferConfig struct {
	// Method is "local" or "rsync".
	Method         string
	RsyncBinary    string
	Retries        int
	BackoffSeconds int
}

// JournalConfig locates the run journal database. The passphrase is
// never stored in the file; PassphraseEnv names the environment
// variable holding it.
type JournalConfig struct {
	Path          string
	PassphraseEnv string
}

// SequenceConfig controls page renaming.
type SequenceConfig struct {
	MaxDepth   int
	Extensions []string
}

// Config is the fully resolved arcmig configuration.
type Config struct {
	HashAlgorithm string
	ManifestPath  string
	LockPath      string
	Roots         []model.StorageRoot
	Mapping       MappingConfig
	Audit         AuditConfig
	Transfer      TransferConfig
	Journal       JournalConfig
	Sequence      SequenceConfig
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HashAlgorithm: "sha256",
		LockPath:      "/tmp/arcmig.lock",
		Mapping:       MappingConfig{Delimiter: ';', HasHeader: true},
		Audit: AuditConfig{
			Exclude:        []string{"thumbs"},
			PlaceholderMax: 1024,
			SampleSize:     10,
			Workers:        4,
		},
		Transfer: TransferConfig{
			Method:         "local",
			RsyncBinary:    "rsync",
			Retries:        3,
			BackoffSeconds: 5,
		},
		Journal:  JournalConfig{Path: defaultJournalPath()},
		Sequence: SequenceConfig{MaxDepth: 4},
	}
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "arcmig-journal.db"
	}
	return home + "/.arcmig/journal.db"
}

const rootSectionPrefix = "root:"

// Load reads path and overlays it on the defaults.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	cfg := Default()

	hash := file.Section("hash")
	cfg.HashAlgorithm = hash.Key("algorithm").MustString(cfg.HashAlgorithm)

	manifest := file.Section("manifest")
	cfg.ManifestPath = manifest.Key("path").MustString(cfg.ManifestPath)

	lock := file.Section("lock")
	cfg.LockPath = lock.Key("path").MustString(cfg.LockPath)

	mapping := file.Section("mapping")
	if d := mapping.Key("delimiter").MustString(string(cfg.Mapping.Delimiter)); d != "" {
		cfg.Mapping.Delimiter = rune(d[0])
	}
	cfg.Mapping.HasHeader = mapping.Key("header").MustBool(cfg.Mapping.HasHeader)

	audit := file.Section("audit")
	if v := audit.Key("exclude").MustString(""); v != "" {
		cfg.Audit.Exclude = strings.Fields(v)
	}
	cfg.Audit.PlaceholderMax = audit.Key("placeholder_max").MustInt64(cfg.Audit.PlaceholderMax)
	cfg.Audit.SampleSize = audit.Key("sample_size").MustInt(cfg.Audit.SampleSize)
	cfg.Audit.Workers = audit.Key("workers").MustInt(cfg.Audit.Workers)

	tr := file.Section("transfer")
	cfg.Transfer.Method = tr.Key("method").MustString(cfg.Transfer.Method)
	cfg.Transfer.RsyncBinary = tr.Key("rsync_binary").MustString(cfg.Transfer.RsyncBinary)
	cfg.Transfer.Retries = tr.Key("retries").MustInt(cfg.Transfer.Retries)
	cfg.Transfer.BackoffSeconds = tr.Key("backoff_seconds").MustInt(cfg.Transfer.BackoffSeconds)

	journal := file.Section("journal")
	cfg.Journal.Path = journal.Key("path").MustString(cfg.Journal.Path)
	cfg.Journal.PassphraseEnv = journal.Key("passphrase_env").MustString("")

	seq := file.Section("sequence")
	cfg.Sequence.MaxDepth = seq.Key("max_depth").MustInt(cfg.Sequence.MaxDepth)
	if v := seq.Key("extensions").MustString(""); v != "" {
		cfg.Sequence.Extensions = strings.Fields(v)
	}

	for _, sec := range file.Sections() {
		if !strings.HasPrefix(sec.Name(), rootSectionPrefix) {
			continue
		}
		root, err := parseRoot(sec)
		if err != nil {
			return nil, err
		}
		cfg.Roots = append(cfg.Roots, root)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseRoot(sec *ini.Section) (model.StorageRoot, error) {
	name := strings.TrimPrefix(sec.Name(), rootSectionPrefix)
	basePath := sec.Key("path").String()
	if basePath == "" {
		return model.StorageRoot{}, fmt.Errorf("root %q has no path", name)
	}
	role, err := parseRole(sec.Key("role").MustString("secondary"))
	if err != nil {
		return model.StorageRoot{}, fmt.Errorf("root %q: %w", name, err)
	}
	return model.StorageRoot{Name: name, BasePath: basePath, Role: role}, nil
}

func parseRole(s string) (model.RootRole, error) {
	switch model.RootRole(strings.ToLower(s)) {
	case model.RolePrimary:
		return model.RolePrimary, nil
	case model.RoleSecondary:
		return model.RoleSecondary, nil
	case model.RoleAlias:
		return model.RoleAlias, nil
	default:
		return "", fmt.Errorf("unknown root role %q", s)
	}
}

func (c *Config) validate() error {
	switch c.HashAlgorithm {
	case "md5", "sha256":
	default:
		return fmt.Errorf("unknown hash algorithm %q", c.HashAlgorithm)
	}
	switch c.Transfer.Method {
	case "local", "rsync":
	default:
		return fmt.Errorf("unknown transfer method %q", c.Transfer.Method)
	}
	primaries := 0
	for _, r := range c.Roots {
		if r.Role == model.RolePrimary {
			primaries++
		}
	}
	if len(c.Roots) > 0 && primaries != 1 {
		return fmt.Errorf("exactly one primary root required, found %d", primaries)
	}
	return nil
}

// JournalPassphrase resolves the journal passphrase from the
// environment; empty means an unencrypted journal.
func (c *Config) JournalPassphrase() string {
	if c.Journal.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.Journal.PassphraseEnv)
}
