// Package scanner implements the directory walk and producer:
// an explicit LIFO of pending directories, filtering hidden and
// separator-colliding names, and a four-buffer rotating handoff to the
// size-index worker (the package's sole consumer).
//
// # Concurrency model
//
// One goroutine walks the LIFO (the producer). It owns exactly one of four
// fixed-size buffers at a time; when that buffer fills, it hands it to the
// consumer over itemsCh and receives its next buffer from freeCh. freeCh is
// pre-loaded with all four buffers, so the producer blocks only when the
// consumer has fallen behind by a full four buffers of work — the "up to
// four buffers of jitter" the design allows before synchronizing per item.
package scanner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dupd-go/dupd/internal/arena"
	"github.com/dupd-go/dupd/internal/config"
	"github.com/dupd-go/dupd/internal/dirtree"
)

// FileEntry is one regular file discovered by the walk, ready for the
// size-index worker. Dir+Name stand in for a full path.
type FileEntry struct {
	Dir     arena.Ref
	Name    string
	Size    int64
	Dev     uint64
	Ino     uint64
	Nlink   uint32
	ModTime time.Time
}

const buffersInFlight = 4

// Buffer is one of the four fixed-length rotating slots shared between the
// producer and the size-index worker.
type Buffer struct {
	Entries []FileEntry
	// Final marks the buffer carrying the walk's last entries; the consumer
	// must not expect another buffer after one with Final set.
	Final bool
}

// Stats tracks scan progress with atomic counters, read concurrently by the
// progress bar and written by the producer goroutine (the engine's consumer
// also adds to IgnoredEntries for skipped hardlink repeats).
type Stats struct {
	ScannedFiles   atomic.Int64
	MatchedFiles   atomic.Int64
	IgnoredEntries atomic.Int64
	ScannedBytes   atomic.Int64
	MatchedBytes   atomic.Int64
	startTime      time.Time
}

func (s *Stats) String() string {
	return fmt.Sprintf("Scanned %d (%s), matched %d files (%s), ignored %d in %.1fs",
		s.ScannedFiles.Load(), humanize.IBytes(uint64(s.ScannedBytes.Load())),
		s.MatchedFiles.Load(), humanize.IBytes(uint64(s.MatchedBytes.Load())),
		s.IgnoredEntries.Load(), time.Since(s.startTime).Seconds())
}

// Walker drives the directory walk. Single-use: create with New, call Run
// once, drain the returned channel to completion, calling Release on every
// buffer received.
type Walker struct {
	cfg   *config.Config
	tree  *dirtree.Tree
	errCh chan error

	bufSize int
	freeCh  chan *Buffer
	itemsCh chan *Buffer

	Stats *Stats
}

// New creates a Walker over tree, rooted at cfg.Paths. bufSize is the number
// of FileEntry slots per rotating buffer.
func New(cfg *config.Config, tree *dirtree.Tree, errCh chan error, bufSize int) *Walker {
	if bufSize <= 0 {
		bufSize = 4096
	}
	if cfg.XSmallBuffers {
		bufSize = 8
	}
	return &Walker{
		cfg:     cfg,
		tree:    tree,
		errCh:   errCh,
		bufSize: bufSize,
		Stats:   &Stats{startTime: time.Now()},
	}
}

// stackEntry is one pending directory: its tree node plus its filesystem path.
type stackEntry struct {
	dir  arena.Ref
	path string
	dev  uint64
}

// Run starts the walk in a new goroutine and returns the channel of filled
// buffers. The channel is closed once the walk (and the final, possibly
// partial, buffer) has been sent.
func (w *Walker) Run() <-chan *Buffer {
	w.freeCh = make(chan *Buffer, buffersInFlight)
	w.itemsCh = make(chan *Buffer, buffersInFlight)
	for i := 0; i < buffersInFlight; i++ {
		w.freeCh <- &Buffer{Entries: make([]FileEntry, 0, w.bufSize)}
	}

	go w.walk()
	return w.itemsCh
}

// Release returns a consumed buffer to the free pool so the producer can
// reuse it. Callers must call Release on every buffer they receive from
// Run's channel, in the order they were received.
func (w *Walker) Release(buf *Buffer) {
	buf.Entries = buf.Entries[:0]
	buf.Final = false
	w.freeCh <- buf
}

func (w *Walker) walk() {
	defer close(w.itemsCh)

	cur := <-w.freeCh
	flush := func(final bool) {
		cur.Final = final
		w.itemsCh <- cur
		if !final {
			cur = <-w.freeCh
		}
	}

	var stack []stackEntry
	for _, root := range w.cfg.Paths {
		abs, err := filepath.Abs(root)
		if err != nil {
			w.sendError(err)
			continue
		}
		dev, ok := rootDevice(abs)
		if !ok {
			w.sendError(fmt.Errorf("stat %s: cannot determine device", abs))
			continue
		}
		name := strings.TrimPrefix(filepath.ToSlash(abs), "/")
		dirRef := w.tree.Insert(w.tree.Root(), name)
		stack = append(stack, stackEntry{dir: dirRef, path: abs, dev: dev})
	}

	for len(stack) > 0 {
		n := len(stack) - 1
		entry := stack[n]
		stack = stack[:n]

		children, err := w.listDirectory(entry, &cur, flush)
		if err != nil {
			w.sendError(err)
			continue
		}
		stack = append(stack, children...)
	}

	flush(true)
}

// listDirectory reads one directory, filters and enqueues its regular
// files, and returns the subdirectories to push onto the walker's LIFO.
func (w *Walker) listDirectory(entry stackEntry, cur **Buffer, flush func(bool)) ([]stackEntry, error) {
	dir, err := os.Open(entry.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = dir.Close() }()

	var subdirs []stackEntry
	const batchSize = 1000
	for {
		dirents, err := dir.ReadDir(batchSize)
		if len(dirents) == 0 {
			if err != nil && err != io.EOF {
				return subdirs, err
			}
			break
		}

		for _, de := range dirents {
			name := de.Name()
			if name == "." || name == ".." {
				continue
			}
			if !w.cfg.Hidden && strings.HasPrefix(name, ".") {
				w.Stats.IgnoredEntries.Add(1)
				continue
			}
			if strings.IndexByte(name, w.cfg.PathSep) >= 0 {
				w.Stats.IgnoredEntries.Add(1)
				continue
			}

			fullPath := filepath.Join(entry.path, name)

			if de.IsDir() {
				dev := entry.dev
				if w.cfg.OneFileSystem {
					var ok bool
					dev, ok = rootDevice(fullPath)
					if !ok {
						w.Stats.IgnoredEntries.Add(1)
						continue
					}
					if dev != entry.dev {
						w.Stats.IgnoredEntries.Add(1)
						continue
					}
				}
				childRef := w.tree.Insert(entry.dir, name)
				subdirs = append(subdirs, stackEntry{dir: childRef, path: fullPath, dev: dev})
				continue
			}

			if !de.Type().IsRegular() {
				w.Stats.IgnoredEntries.Add(1)
				continue
			}

			info, err := de.Info()
			if err != nil {
				w.sendError(err)
				continue
			}

			w.Stats.ScannedFiles.Add(1)
			w.Stats.ScannedBytes.Add(info.Size())

			if info.Size() < w.cfg.MinimumSize {
				w.Stats.IgnoredEntries.Add(1)
				continue
			}

			dev, ino, nlink, ok := fileIdentity(info)
			if !ok {
				w.Stats.IgnoredEntries.Add(1)
				continue
			}

			fe := FileEntry{
				Dir:     entry.dir,
				Name:    name,
				Size:    info.Size(),
				Dev:     dev,
				Ino:     ino,
				Nlink:   nlink,
				ModTime: info.ModTime(),
			}
			w.Stats.MatchedFiles.Add(1)
			w.Stats.MatchedBytes.Add(info.Size())

			buf := *cur
			buf.Entries = append(buf.Entries, fe)
			if len(buf.Entries) == cap(buf.Entries) {
				flush(false)
			}
		}
	}

	return subdirs, nil
}

func (w *Walker) sendError(err error) {
	if w.errCh != nil {
		w.errCh <- err
	}
}
