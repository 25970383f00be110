package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dupd-go/dupd/internal/catalog"
	"github.com/dupd-go/dupd/internal/config"
	"github.com/dupd-go/dupd/internal/engine"
	"github.com/dupd-go/dupd/internal/progress"
	"github.com/dupd-go/dupd/internal/publish"
	"github.com/dupd-go/dupd/internal/stats"
)

// scanOptions holds every CLI flag for the scan subcommand, mirroring how
// dedupeOptions collects dedupe's flags before building its pipeline.
type scanOptions struct {
	paths            []string
	dbPath           string
	cutPath          string
	excludePath      string
	minSizeStr       string
	hashFunction     string
	reportFormat     string
	firstBlockSize   int64
	firstBlocks      int64
	blockSize        int64
	fileBlockSize    int64
	ssd              bool
	hdd              bool
	noDB             bool
	link             bool
	hardlink         bool
	uniques          bool
	noUnique         bool
	skipTwo          bool
	skipThree        bool
	hidden           bool
	hardlinkIsUnique bool
	oneFileSystem    bool
	statsFile        string
	bufferLimitStr   string
	sortBy           string
	quiet            bool
	verboseCount     int
	verboseLevel     int
	pathSep          string
	xSmallBuffers    bool
	xTesting         bool
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{
		minSizeStr:   "1",
		hashFunction: string(config.HashXXHash),
		reportFormat: string(config.ReportText),
		sortBy:       string(config.SortByBlock),
		pathSep:      string(rune(config.DefaultPathSep)),
	}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan paths and catalog duplicate files",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runScan(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&opts.paths, "path", "p", nil, "path to scan (repeatable)")
	flags.StringVar(&opts.dbPath, "db", "", "catalog database path (default $HOME/.dupd.db)")
	flags.StringVar(&opts.cutPath, "cut-path", "", "prefix to trim from reported paths")
	flags.StringVar(&opts.excludePath, "exclude-path", "", "absolute path prefix to exclude from reports")
	flags.StringVar(&opts.minSizeStr, "minimum-size", opts.minSizeStr, "minimum file size to consider (e.g. 100, 1K, 10M)")
	flags.StringVar(&opts.hashFunction, "hash-function", opts.hashFunction, "hash function: md5, sha1, sha512, xxhash")
	flags.StringVar(&opts.reportFormat, "report-format", opts.reportFormat, "report format: text, csv, json")
	flags.Int64Var(&opts.firstBlockSize, "first-block-size", config.DefaultFirstBlockSize, "round-1 read block size in bytes")
	flags.Int64Var(&opts.firstBlocks, "first-blocks", config.DefaultFirstBlocks, "number of round-1 blocks to read")
	flags.Int64Var(&opts.blockSize, "block-size", config.DefaultBlockSize, "round-2 streaming read size in bytes")
	flags.Int64Var(&opts.fileBlockSize, "file-block-size", config.DefaultFileBlockSize, "single-block read size for small files (accepted; not used by round 1 or round 2)")
	flags.BoolVar(&opts.ssd, "ssd", false, "disable extent-ordering reads (solid-state storage)")
	flags.BoolVar(&opts.hdd, "hdd", false, "force extent-ordering reads (rotational storage)")
	flags.BoolVar(&opts.noDB, "nodb", false, "do not persist results to the catalog database")
	flags.BoolVar(&opts.link, "link", false, "emit a symlink deduplication script (not implemented in this build)")
	flags.BoolVar(&opts.hardlink, "hardlink", false, "emit a hardlink deduplication script (not implemented in this build)")
	flags.BoolVar(&opts.uniques, "uniques", false, "save known-unique files to the catalog")
	flags.BoolVar(&opts.noUnique, "no-unique", false, "do not save known-unique files (default)")
	flags.BoolVar(&opts.skipTwo, "skip-two", false, "skip the 2-file direct-compare fast path")
	flags.BoolVar(&opts.skipThree, "skip-three", false, "skip the 3-file direct-compare fast path")
	flags.BoolVar(&opts.hidden, "hidden", false, "include hidden files and directories")
	flags.BoolVar(&opts.hardlinkIsUnique, "hardlink-is-unique", false, "treat all names of one inode as a single file")
	flags.BoolVar(&opts.oneFileSystem, "one-file-system", false, "do not cross filesystem/device boundaries")
	flags.StringVar(&opts.statsFile, "stats-file", "", "append run statistics to this file")
	flags.StringVar(&opts.bufferLimitStr, "buffer-limit", "", "process-wide memory ceiling (e.g. 1G, 512M)")
	flags.StringVar(&opts.sortBy, "sort-by", opts.sortBy, "read-list order policy: inode, block, none (accepted; the read list does not consult it)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress progress output and the summary line")
	flags.CountVarP(&opts.verboseCount, "verbose", "v", "increase verbosity (repeatable)")
	flags.IntVar(&opts.verboseLevel, "verbose-level", 0, "set verbosity explicitly instead of repeating --verbose")
	flags.StringVar(&opts.pathSep, "pathsep", opts.pathSep, "single-byte path separator used in catalog records")
	flags.BoolVar(&opts.xSmallBuffers, "x-small-buffers", false, "use tiny internal buffers (testing only)")
	flags.BoolVar(&opts.xTesting, "x-testing", false, "reserved for tests")

	return cmd
}

func runScan(opts *scanOptions) error {
	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	var sink publish.Sink
	var cat *catalog.Catalog
	if cfg.NoDB {
		sink = publish.Discard{}
	} else {
		hardlinks := catalog.HardlinkNormal
		if cfg.HardlinkIsUnique {
			hardlinks = catalog.HardlinkIgnore
		}
		cat, err = catalog.Open(cfg.DBPath, cfg.PathSep, cfg.Hidden, hardlinks, cfg.SaveUniques)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer func() { _ = cat.Close() }()
		sink = cat
	}

	if opts.link || opts.hardlink {
		fmt.Fprintln(os.Stderr, "dupd: --link/--hardlink script emission is not implemented in this build")
	}

	errs := make(chan error, 100)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for err := range errs {
			fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
		}
	}()

	bar := progress.New(!cfg.Quiet, -1)
	eng, err := engine.New(cfg, sink, errs)
	if err != nil {
		close(errs)
		<-done
		return err
	}

	type runOutcome struct {
		counters *stats.Counters
		err      error
	}
	outcome := make(chan runOutcome, 1)
	go func() {
		counters, runErr := eng.Run()
		outcome <- runOutcome{counters, runErr}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var result runOutcome
loop:
	for {
		select {
		case result = <-outcome:
			break loop
		case <-ticker.C:
			if s := eng.Counters.Scan; s != nil {
				bar.Describe(s)
			}
		}
	}

	close(errs)
	<-done
	bar.Finish(fmtStringer(result.counters.Summary()))
	if result.err != nil {
		return result.err
	}
	counters := result.counters

	if !cfg.Quiet {
		fmt.Println(counters.Report(cfg.VerboseLevel))
	}
	if cfg.StatsFile != "" {
		if err := counters.Save(cfg.StatsFile); err != nil {
			return fmt.Errorf("save stats: %w", err)
		}
	}
	return nil
}

// fmtStringer adapts a plain string to fmt.Stringer for progress.Bar.Finish,
// which takes a Stringer so callers can pass their own report type instead
// of a preformatted string.
type fmtStringer string

func (s fmtStringer) String() string { return string(s) }

func buildConfig(opts *scanOptions) (*config.Config, error) {
	if len(opts.paths) == 0 {
		return nil, fmt.Errorf("at least one --path is required")
	}
	if err := validateExcludePath(opts.excludePath); err != nil {
		return nil, err
	}

	minSize, err := config.ParseSize(opts.minSizeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --minimum-size: %w", err)
	}

	cfg := config.New()
	cfg.Paths = opts.paths
	cfg.DBPath = opts.dbPath
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath()
	}
	cfg.CutPath = opts.cutPath
	if opts.excludePath != "" {
		cfg.ExcludePaths = []string{opts.excludePath}
	}
	cfg.MinimumSize = minSize

	switch config.HashFunction(opts.hashFunction) {
	case config.HashMD5, config.HashSHA1, config.HashSHA512, config.HashXXHash:
		cfg.HashFunction = config.HashFunction(opts.hashFunction)
	default:
		return nil, fmt.Errorf("invalid --hash-function %q", opts.hashFunction)
	}

	switch config.ReportFormat(opts.reportFormat) {
	case config.ReportText, config.ReportCSV, config.ReportJSON:
		cfg.ReportFormat = config.ReportFormat(opts.reportFormat)
	default:
		return nil, fmt.Errorf("invalid --report-format %q", opts.reportFormat)
	}

	switch config.SortBy(opts.sortBy) {
	case config.SortByInode, config.SortByBlock, config.SortByNone:
		cfg.SortBy = config.SortBy(opts.sortBy)
	default:
		return nil, fmt.Errorf("invalid --sort-by %q", opts.sortBy)
	}

	cfg.FirstBlockSize = opts.firstBlockSize
	cfg.FirstBlocks = opts.firstBlocks
	cfg.BlockSize = opts.blockSize
	cfg.FileBlockSize = opts.fileBlockSize

	if opts.ssd && opts.hdd {
		return nil, fmt.Errorf("--ssd and --hdd are mutually exclusive")
	}
	cfg.SSD = opts.ssd

	cfg.NoDB = opts.noDB
	cfg.SaveUniques = opts.uniques && !opts.noUnique
	cfg.SkipTwoFileFastPath = opts.skipTwo
	cfg.SkipThreeFileFastPath = opts.skipThree
	cfg.Hidden = opts.hidden
	cfg.HardlinkIsUnique = opts.hardlinkIsUnique
	cfg.OneFileSystem = opts.oneFileSystem
	cfg.StatsFile = opts.statsFile

	if opts.bufferLimitStr != "" {
		limit, err := config.ParseSize(opts.bufferLimitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --buffer-limit: %w", err)
		}
		cfg.BufferLimit = limit
	}

	cfg.Quiet = opts.quiet
	cfg.VerboseLevel = opts.verboseLevel + opts.verboseCount

	if len(opts.pathSep) != 1 {
		return nil, fmt.Errorf("--pathsep must be exactly one byte")
	}
	cfg.PathSep = opts.pathSep[0]

	cfg.XSmallBuffers = opts.xSmallBuffers

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
