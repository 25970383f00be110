// Package config holds the single immutable configuration value threaded
// through every pipeline component. No package reads package-level mutable
// flags at runtime; everything that affects behavior is resolved once here
// and passed down, per the "Global mutable state" design note.
package config

import (
	"fmt"
	"runtime"

	"github.com/dustin/go-humanize"
)

// HashFunction identifies the digest algorithm used for progressive hashing.
type HashFunction string

const (
	HashMD5     HashFunction = "md5"
	HashSHA1    HashFunction = "sha1"
	HashSHA512  HashFunction = "sha512"
	HashXXHash  HashFunction = "xxhash"
)

// SortBy names a read-list ordering policy. It is carried in Config, but the
// read list does not consult it: its order depends only on SSD and on
// whether extent ordering is still enabled.
type SortBy string

const (
	SortByInode SortBy = "inode"
	SortByBlock SortBy = "block"
	SortByNone  SortBy = "none"
)

// ReportFormat controls how the CLI's report collaborator renders catalog contents.
type ReportFormat string

const (
	ReportText ReportFormat = "text"
	ReportCSV  ReportFormat = "csv"
	ReportJSON ReportFormat = "json"
)

const (
	// DefaultFirstBlockSize is the size of one round-1 read block (4 KiB).
	DefaultFirstBlockSize = 4 * 1024
	// DefaultFirstBlocks is the number of blocks read in round 1, giving a
	// default prefix window of 4KiB * 256 = 1MiB.
	DefaultFirstBlocks = 256
	// DefaultBlockSize is the chunked streaming read size used in round 2 (1 MiB).
	DefaultBlockSize = 1024 * 1024
	// DefaultFileBlockSize is the default for Config.FileBlockSize
	// (--file-block-size). Neither round reads that field: round 1 reads
	// min(size, PrefixWindow()) bytes of each file.
	DefaultFileBlockSize = 4 * 1024
	// DefaultFilecmpBlockSize is the chunk size used by the direct-compare
	// fast paths (128 KiB).
	DefaultFilecmpBlockSize = 128 * 1024
	// DefaultPathSep is the in-record separator byte used to join duplicate
	// group paths in the catalog (ASCII FS, 0x1C).
	DefaultPathSep = 0x1C
	// MaxOpenFilesRound2 bounds concurrently open descriptors during round 2.
	MaxOpenFilesRound2 = 4
	// Round1HasherThreads is fixed regardless of detected core count; scaling
	// with CPU count is left as an open policy question, resolved here in
	// favor of the documented default.
	Round1HasherThreads = 2
	// Round2HasherThreads mirrors the single reader/hasher pair design.
	Round2HasherThreads = 1
	// FiemapZeroThresholdFraction is the fraction of zero-block reports that
	// disables extent ordering.
	FiemapZeroThresholdFraction = 0.05
	// FiemapZeroThresholdMinFiles is the minimum number of observed files
	// before the zero-fraction threshold is evaluated.
	FiemapZeroThresholdMinFiles = 100
	// SmallGroupSmallFilesLimit bounds band 2 vs band 3 in the read-list.
	SmallGroupSmallFilesLimit = 512
	// SmallGroupLargeFilesLimit bounds band 4 vs band 5 in the read-list.
	SmallGroupLargeFilesLimit = 8
)

// Config is built once by the CLI (or by tests) and never mutated afterward.
type Config struct {
	Paths        []string
	DBPath       string
	CutPath      string
	ExcludePaths []string

	MinimumSize int64

	HashFunction HashFunction
	ReportFormat ReportFormat
	SortBy       SortBy

	FirstBlockSize  int64
	FirstBlocks     int64
	BlockSize       int64
	FileBlockSize   int64
	FilecmpBlockSize int64

	SSD bool // disables extent-ordering reader, uses size-list order instead

	NoDB             bool
	SaveUniques      bool
	SkipTwoFileFastPath   bool
	SkipThreeFileFastPath bool
	Hidden                bool
	HardlinkIsUnique      bool
	OneFileSystem         bool

	StatsFile string
	Workers   int

	BufferLimit int64 // bytes; process-wide memory ceiling

	Quiet        bool
	VerboseLevel int

	PathSep byte

	XSmallBuffers bool // reserved for tests: shrinks internal slab/array sizes
}

// PrefixWindow is the most any round-1 read will consume from one file.
func (c *Config) PrefixWindow() int64 {
	return c.FirstBlockSize * c.FirstBlocks
}

// New returns a Config with every documented default applied.
func New() *Config {
	return &Config{
		MinimumSize:           1,
		HashFunction:          HashXXHash,
		ReportFormat:          ReportText,
		SortBy:                SortByBlock,
		FirstBlockSize:        DefaultFirstBlockSize,
		FirstBlocks:           DefaultFirstBlocks,
		BlockSize:             DefaultBlockSize,
		FileBlockSize:         DefaultFileBlockSize,
		FilecmpBlockSize:      DefaultFilecmpBlockSize,
		SkipTwoFileFastPath:   false,
		SkipThreeFileFastPath: false,
		Workers:               runtime.NumCPU(),
		BufferLimit:           defaultMemoryCeiling(),
		PathSep:               DefaultPathSep,
	}
}

// ParseSize parses a human-readable size string ("100", "1K", "10M", "1G")
// used for --minimum-size and --buffer-limit.
func ParseSize(s string) (int64, error) {
	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	return int64(bytes), nil
}

// defaultMemoryCeiling returns a fixed 512 MiB; it does not detect the
// machine's physical RAM. The CLI overrides it via --buffer-limit.
func defaultMemoryCeiling() int64 {
	const fallback = 512 * 1024 * 1024 // 512 MiB
	return fallback
}

// Validate checks field invariants that the CLI and tests should both enforce.
func (c *Config) Validate() error {
	if len(c.Paths) == 0 {
		return fmt.Errorf("config: at least one path is required")
	}
	switch c.HashFunction {
	case HashMD5, HashSHA1, HashSHA512, HashXXHash:
	default:
		return fmt.Errorf("config: unknown hash function %q", c.HashFunction)
	}
	if c.PathSep == 0 {
		return fmt.Errorf("config: pathsep must be a single non-zero byte")
	}
	return nil
}
