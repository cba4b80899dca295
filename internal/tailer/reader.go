// Package tailer follows the active order-status log file, handing off
// across hourly rotations with no catch-up: a newly adopted file is always
// picked up at its current end, never replayed from the start.
package tailer

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/qzavyer/hypernode-orderfeed/internal/locator"
)

// PaceSignal is consulted before every poll; a positive return value is
// slept in addition to the reader's base cadence. It is the reader's only
// connection to an external rate-limiting collaborator — the reader
// consumes the signal, it never produces one.
type PaceSignal func() time.Duration

// Reader tails the Locator's active file, following file rotation and
// directory rotation, and emits complete lines as they are appended.
type Reader struct {
	loc            *locator.Locator
	pollInterval   time.Duration
	rescanInterval time.Duration
	pace           PaceSignal

	// CleanupSignal receives a non-blocking notification when a read fails
	// with ENOSPC. The housekeeping collaborator that would act on this is
	// out of scope; this is only the producing side of that interface.
	CleanupSignal chan<- struct{}

	lines  chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	curPath    string
	offset     int64
	partial    []byte
	watcher    *fsnotify.Watcher
	watchedDir string
}

// Option configures a Reader.
type Option func(*Reader)

// WithPollInterval overrides the default per-file poll fallback cadence.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reader) { r.pollInterval = d }
}

// WithRescanInterval overrides the default active-file rescan cadence used
// to detect hourly rotation when fsnotify misses the directory event.
func WithRescanInterval(d time.Duration) Option {
	return func(r *Reader) { r.rescanInterval = d }
}

// WithPaceSignal installs a rate-limiting collaborator.
func WithPaceSignal(p PaceSignal) Option {
	return func(r *Reader) { r.pace = p }
}

// New creates a Reader over the given Locator. The reader always starts at
// the end of whatever file is active when it starts — there is no
// historical catch-up.
func New(ctx context.Context, loc *locator.Locator, opts ...Option) (*Reader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	rCtx, cancel := context.WithCancel(ctx)
	r := &Reader{
		loc:            loc,
		pollInterval:   5 * time.Millisecond,
		rescanInterval: 30 * time.Second,
		lines:          make(chan []byte, 1024),
		ctx:            rCtx,
		cancel:         cancel,
		watcher:        watcher,
	}

	if path, ok := loc.Active(); ok {
		r.adoptFile(path, false)
	}

	go r.loop()
	return r, nil
}

// Lines returns a channel of complete log lines.
func (r *Reader) Lines() <-chan []byte {
	return r.lines
}

// Stop shuts the reader down.
func (r *Reader) Stop() {
	r.cancel()
	_ = r.watcher.Close()
}

// adoptFile switches the reader to path with the cursor at the file's
// current end. The bool parameter is ignored: there is no catch-up mode,
// so the very first adopted file and every rotation handover start at the
// end.
func (r *Reader) adoptFile(path string, _ bool) {
	r.curPath = path
	r.partial = nil
	r.offset = 0
	if info, err := os.Stat(path); err == nil {
		r.offset = info.Size()
	}
	r.rewatchDir(path)
}

func (r *Reader) rewatchDir(path string) {
	dir := filepath.Dir(path)
	if dir == r.watchedDir {
		return
	}
	if r.watchedDir != "" {
		_ = r.watcher.Remove(r.watchedDir)
	}
	if err := r.watcher.Add(dir); err != nil {
		log.Printf("tailer: watch %s: %v", dir, err)
		return
	}
	r.watchedDir = dir
}

func (r *Reader) loop() {
	defer close(r.lines)

	pollTicker := time.NewTicker(r.pollInterval)
	defer pollTicker.Stop()
	rescanTicker := time.NewTicker(r.rescanInterval)
	defer rescanTicker.Stop()

	for {
		if r.pace != nil {
			if wait := r.pace(); wait > 0 {
				select {
				case <-time.After(wait):
				case <-r.ctx.Done():
					return
				}
			}
		}

		select {
		case <-r.ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				r.checkRotation()
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				r.readNewData()
			}
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		case <-pollTicker.C:
			r.readNewData()
		case <-rescanTicker.C:
			r.checkRotation()
		}
	}
}

// checkRotation re-resolves the active file via the Locator and, if it has
// changed, hands the cursor over to the new file's end with no catch-up.
func (r *Reader) checkRotation() {
	path, ok := r.loc.Active()
	if !ok {
		return
	}
	if path == r.curPath {
		return
	}
	log.Printf("tailer: rotating from %s to %s", r.curPath, path)
	r.adoptFile(path, false)
}

func (r *Reader) readNewData() {
	if r.curPath == "" {
		r.checkRotation()
		if r.curPath == "" {
			return
		}
	}

	f, err := os.Open(r.curPath)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		r.reportIfENOSPC(err)
		return
	}

	if info.Size() < r.offset {
		log.Printf("tailer: %s truncated, resetting cursor to new end", r.curPath)
		r.offset = info.Size()
		r.partial = nil
		return
	}

	if info.Size() == r.offset {
		return
	}

	if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
		r.reportIfENOSPC(err)
		return
	}

	chunk := make([]byte, info.Size()-r.offset)
	n, err := io.ReadFull(f, chunk)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		r.reportIfENOSPC(err)
		log.Printf("tailer: read %s: %v", r.curPath, err)
		return
	}
	chunk = chunk[:n]
	r.offset += int64(n)

	data := make([]byte, 0, len(r.partial)+len(chunk))
	data = append(data, r.partial...)
	data = append(data, chunk...)
	r.partial = nil

	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] != '\n' {
			continue
		}
		line := data[start:i]
		start = i + 1
		if len(line) == 0 {
			continue
		}
		lineCopy := make([]byte, len(line))
		copy(lineCopy, line)

		select {
		case r.lines <- lineCopy:
		case <-r.ctx.Done():
			return
		}
	}

	// The bytes after the last newline are an unterminated fragment, not
	// yet a complete line. Carry them forward rather than emitting them.
	if start < len(data) {
		remainder := data[start:]
		r.partial = make([]byte, len(remainder))
		copy(r.partial, remainder)
	}
}

func (r *Reader) reportIfENOSPC(err error) {
	if !errors.Is(err, syscall.ENOSPC) {
		return
	}
	if r.CleanupSignal == nil {
		return
	}
	select {
	case r.CleanupSignal <- struct{}{}:
	default:
	}
}
