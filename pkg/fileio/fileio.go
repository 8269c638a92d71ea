// Package fileio implements FileIoEngine: the half of the block-transfer
// core that reads from, and writes to, a local file treated as a sparse
// block array. Workers seek to block_id * block_size and transfer exactly
// one block; readers also compute the block's content hash.
package fileio

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/m4k3r-org/backy2/internal/fserrors"
	"github.com/m4k3r-org/backy2/internal/fslog"
	"github.com/m4k3r-org/backy2/pkg/block"
	"github.com/m4k3r-org/backy2/pkg/queue"
)

// DefaultReadQueueLength and DefaultWriteQueueLength pad the output/write
// queue beyond the worker count, matching backy2's io/file.py constants.
const (
	DefaultReadQueueLength  = 20
	DefaultWriteQueueLength = 20
)

// HashFunc computes the configured hash over a block's bytes and returns
// its hex digest. The choice of algorithm is an external collaborator; the
// engine only ever calls this function.
type HashFunc func(data []byte) block.Checksum

var fileURIPattern = regexp.MustCompile(`^file://(.+)$`)

// Config carries the tunables FileIoEngine needs at construction time.
type Config struct {
	SimultaneousReads  int
	SimultaneousWrites int
	ReadQueueLength    int // defaults to DefaultReadQueueLength when 0
	WriteQueueLength   int // defaults to DefaultWriteQueueLength when 0
}

// WorkerState is the small state machine each reader/writer worker
// advances through, exposed only for operator status.
type WorkerState int32

const (
	StateNothing WorkerState = iota
	StateSeeking
	StateReadingWriting
	StateFadvise
)

type readOutput struct {
	sentinel bool
	result   block.ReadResult
}

// Engine is a FileIoEngine. Create with New, then Open for read, write, or
// both.
type Engine struct {
	cfg          Config
	blockSize    int64
	hash         HashFunc
	path         string

	readerStates []int32 // atomic WorkerState per reader
	writerStates []int32 // atomic WorkerState per writer

	inQueue     *queue.Unbounded[*block.Block]
	outQueue    *queue.Bounded[readOutput]
	readWG      sync.WaitGroup
	readersOpen bool

	writeQueue  *queue.Bounded[*block.WriteJob]
	writeFile   *os.File
	writeWG     sync.WaitGroup
	writersOpen bool

	closed atomic.Bool

	fatalMu  sync.Mutex
	fatalErr error
}

// setFatal records the first fatal local-I/O or programming error the
// engine has seen. Subsequent calls after the first are no-ops.
func (e *Engine) setFatal(err error) {
	e.fatalMu.Lock()
	defer e.fatalMu.Unlock()
	if e.fatalErr == nil {
		e.fatalErr = err
	}
}

// Err returns the first fatal error encountered by any worker, or nil.
func (e *Engine) Err() error {
	e.fatalMu.Lock()
	defer e.fatalMu.Unlock()
	return e.fatalErr
}

// New creates an Engine for the given configured block size and hash
// function. Call OpenR/OpenW to start worker pools.
func New(cfg Config, blockSize int64, hash HashFunc) *Engine {
	if cfg.ReadQueueLength == 0 {
		cfg.ReadQueueLength = DefaultReadQueueLength
	}
	if cfg.WriteQueueLength == 0 {
		cfg.WriteQueueLength = DefaultWriteQueueLength
	}
	return &Engine{cfg: cfg, blockSize: blockSize, hash: hash}
}

func parseFileURI(uri string) (string, error) {
	m := fileURIPattern.FindStringSubmatch(uri)
	if m == nil {
		return "", fmt.Errorf("%w: not a valid file URI: %q (need file://<path>)", fserrors.ErrConfig, uri)
	}
	return m[1], nil
}

// OpenR validates a file://<path> URI and starts SimultaneousReads reader
// workers, each with its own file descriptor.
func (e *Engine) OpenR(uri string) error {
	path, err := parseFileURI(uri)
	if err != nil {
		return err
	}
	e.path = path

	e.inQueue = queue.NewUnbounded[*block.Block]()
	e.outQueue = queue.NewBounded[readOutput](e.cfg.SimultaneousReads + e.cfg.ReadQueueLength)
	e.readerStates = make([]int32, e.cfg.SimultaneousReads)
	e.readersOpen = true

	for i := 0; i < e.cfg.SimultaneousReads; i++ {
		e.readWG.Add(1)
		go e.readerLoop(i)
	}
	return nil
}

// OpenW ensures path exists with length >= size (creating a sparse file if
// absent, failing if present-and-smaller, failing if present and force is
// false), then starts SimultaneousWrites writer workers sharing one
// read/write descriptor.
func (e *Engine) OpenW(uri string, size int64, force bool) error {
	path, err := parseFileURI(uri)
	if err != nil {
		return err
	}
	e.path = path

	info, statErr := os.Stat(path)
	switch {
	case os.IsNotExist(statErr):
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("%w: creating restore target: %v", fserrors.ErrLocalIO, err)
		}
		if size > 0 {
			if _, err := f.Seek(size-1, io.SeekStart); err != nil {
				f.Close()
				return fmt.Errorf("%w: seeking sparse target: %v", fserrors.ErrLocalIO, err)
			}
			if _, err := f.Write([]byte{0}); err != nil {
				f.Close()
				return fmt.Errorf("%w: writing sparse target: %v", fserrors.ErrLocalIO, err)
			}
		}
		f.Close()
	case statErr != nil:
		return fmt.Errorf("%w: stat restore target: %v", fserrors.ErrLocalIO, statErr)
	default:
		if !force {
			return fmt.Errorf("%w: target already exists: %s (must force the restore)", fserrors.ErrConfig, uri)
		}
		if info.Size() < size {
			return fmt.Errorf("%w: target size is too small: has %db, need %db", fserrors.ErrConfig, info.Size(), size)
		}
	}

	wf, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: opening restore target: %v", fserrors.ErrLocalIO, err)
	}
	e.writeFile = wf

	e.writeQueue = queue.NewBounded[*block.WriteJob](e.cfg.SimultaneousWrites + e.cfg.WriteQueueLength)
	e.writerStates = make([]int32, e.cfg.SimultaneousWrites)
	e.writersOpen = true

	for i := 0; i < e.cfg.SimultaneousWrites; i++ {
		e.writeWG.Add(1)
		go e.writerLoop(i)
	}
	return nil
}

// Size reports the current on-disk size of the IO target.
func (e *Engine) Size() (int64, error) {
	info, err := os.Stat(e.path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", fserrors.ErrLocalIO, err)
	}
	return info.Size(), nil
}

func (e *Engine) readerLoop(id int) {
	defer e.readWG.Done()

	f, err := os.Open(e.path)
	if err != nil {
		fslog.Errorf(logrus.Fields{"worker": id}, "file reader could not open %s: %v", e.path, err)
		e.outQueue.Put(readOutput{sentinel: true})
		return
	}
	defer f.Close()

	for {
		b := e.inQueue.Get()
		if b == nil {
			fslog.Debugf(logrus.Fields{"worker": id}, "file reader finishing")
			e.outQueue.Put(readOutput{sentinel: true})
			return
		}

		offset := b.ID * e.blockSize
		atomic.StoreInt32(&e.readerStates[id], int32(StateSeeking))
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			e.setFatal(fmt.Errorf("%w: seek failed on block %d: %v", fserrors.ErrLocalIO, b.ID, err))
			fslog.Errorf(logrus.Fields{"worker": id, "block": b.ID}, "seek failed: %v", err)
			e.outQueue.Put(readOutput{sentinel: true})
			return
		}

		atomic.StoreInt32(&e.readerStates[id], int32(StateReadingWriting))
		data := make([]byte, e.blockSize)
		n, err := io.ReadFull(f, data)
		if err != nil && err != io.ErrUnexpectedEOF {
			if err == io.EOF || isShortRead(n, e.blockSize) {
				e.setFatal(fmt.Errorf("%w: EOF reached on source when there should be data (block %d)", fserrors.ErrLocalIO, b.ID))
			} else {
				e.setFatal(fmt.Errorf("%w: read failed on block %d: %v", fserrors.ErrLocalIO, b.ID, err))
			}
			fslog.Errorf(logrus.Fields{"worker": id, "block": b.ID}, "fatal read error: %v", e.Err())
			e.outQueue.Put(readOutput{sentinel: true})
			return
		}
		if int64(n) != e.blockSize {
			e.setFatal(fmt.Errorf("%w: short read on block %d: got %d of %d bytes", fserrors.ErrLocalIO, b.ID, n, e.blockSize))
			fslog.Errorf(logrus.Fields{"worker": id, "block": b.ID}, "fatal read error: %v", e.Err())
			e.outQueue.Put(readOutput{sentinel: true})
			return
		}

		atomic.StoreInt32(&e.readerStates[id], int32(StateFadvise))
		dropPageCache(f, offset, e.blockSize)
		atomic.StoreInt32(&e.readerStates[id], int32(StateNothing))

		checksum := e.hash(data)
		if !b.Valid {
			fslog.Debugf(logrus.Fields{"worker": id, "block": b.ID}, "re-read block (was invalid), checksum %s", checksum)
		} else {
			fslog.Debugf(logrus.Fields{"worker": id, "block": b.ID}, "read block (len %d, checksum %s)", n, checksum)
		}

		e.outQueue.Put(readOutput{result: block.ReadResult{Block: *b, Data: data, Checksum: checksum}})
	}
}

func isShortRead(n int, want int64) bool {
	return int64(n) < want
}

func (e *Engine) writerLoop(id int) {
	defer e.writeWG.Done()

	for {
		job := e.writeQueue.Get()
		if job == nil {
			e.writeQueue.TaskDone()
			fslog.Debugf(logrus.Fields{"worker": id}, "file writer finishing")
			return
		}

		offset := job.Block.ID * e.blockSize

		// WriteAt carries its own offset, so writers sharing one
		// descriptor never move each other's file position.
		atomic.StoreInt32(&e.writerStates[id], int32(StateReadingWriting))
		n, err := e.writeFile.WriteAt(job.Data, offset)
		if err != nil {
			e.setFatal(fmt.Errorf("%w: write failed on block %d: %v", fserrors.ErrLocalIO, job.Block.ID, err))
			fslog.Errorf(logrus.Fields{"worker": id, "block": job.Block.ID}, "fatal write error: %v", e.Err())
			e.writeQueue.TaskDone()
			return
		}
		if n != len(job.Data) {
			e.setFatal(fmt.Errorf("%w: write verification mismatch on block %d: wrote %d of %d bytes", fserrors.ErrLocalIO, job.Block.ID, n, len(job.Data)))
			fslog.Errorf(logrus.Fields{"worker": id, "block": job.Block.ID}, "fatal write error: %v", e.Err())
			e.writeQueue.TaskDone()
			return
		}

		atomic.StoreInt32(&e.writerStates[id], int32(StateFadvise))
		dropPageCache(e.writeFile, offset, int64(len(job.Data)))
		atomic.StoreInt32(&e.writerStates[id], int32(StateNothing))

		fslog.Debugf(logrus.Fields{"worker": id, "block": job.Block.ID}, "wrote block (len %d)", len(job.Data))
		e.writeQueue.TaskDone()
	}
}

// Read enqueues block for reading. When sync is true it drains one result
// synchronously and returns its data; a mismatched block id is a
// programming error (sync and async reads must not be mixed).
func (e *Engine) Read(b block.Block, sync bool) (block.Data, error) {
	if !e.readersOpen {
		return nil, fmt.Errorf("%w: no reader open", fserrors.ErrProgramming)
	}
	e.inQueue.Put(&b)
	if !sync {
		return nil, nil
	}
	result, ok := e.Get()
	if !ok {
		if err := e.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: reader closed before sync read completed", fserrors.ErrClosed)
	}
	if result.Block.ID != b.ID {
		return nil, fmt.Errorf("%w: do not mix threaded reading with sync reading (requested %d, got %d)", fserrors.ErrProgramming, b.ID, result.Block.ID)
	}
	return result.Data, nil
}

// Write enqueues (block, data) for writing; fails if no writer is open.
func (e *Engine) Write(b block.Block, data block.Data) error {
	if !e.writersOpen {
		return fmt.Errorf("%w: file not open for writing", fserrors.ErrProgramming)
	}
	e.writeQueue.Put(&block.WriteJob{Block: b, Data: data})
	return nil
}

// Get removes and returns the next completed read. ok is false when the
// item dequeued is a terminal sentinel; each reader worker forwards one
// when it stops, so a consumer sees one ok=false per reader.
func (e *Engine) Get() (block.ReadResult, bool) {
	out := e.outQueue.Get()
	if out.sentinel {
		return block.ReadResult{}, false
	}
	return out.result, true
}

// Close shuts every open worker pool down. Readers are sent one sentinel
// each and joined; writers likewise, then the shared write descriptor is
// closed. The engine is not reusable afterward.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.readersOpen {
		for i := 0; i < e.cfg.SimultaneousReads; i++ {
			e.inQueue.Put(nil)
		}
		e.readWG.Wait()
	}
	if e.writersOpen {
		for i := 0; i < e.cfg.SimultaneousWrites; i++ {
			e.writeQueue.Put(nil)
		}
		e.writeWG.Wait()
		return e.writeFile.Close()
	}
	return nil
}

// Status renders reader/writer worker state counts and the write queue
// depth as one line, for a TUI.
func (e *Engine) Status() (s string) {
	var rn, rr, rs, rf, wn, ww, ws, wf int
	for i := range e.readerStates {
		switch WorkerState(atomic.LoadInt32(&e.readerStates[i])) {
		case StateNothing:
			rn++
		case StateSeeking:
			rs++
		case StateReadingWriting:
			rr++
		case StateFadvise:
			rf++
		}
	}
	for i := range e.writerStates {
		switch WorkerState(atomic.LoadInt32(&e.writerStates[i])) {
		case StateNothing:
			wn++
		case StateSeeking:
			ws++
		case StateReadingWriting:
			ww++
		case StateFadvise:
			wf++
		}
	}
	wql := 0
	if e.writeQueue != nil {
		wql = e.writeQueue.Len()
	}
	return fmt.Sprintf(
		"IO Reader Threads: N:%d R:%d S:%d F:%d  IO Writer Threads: N:%d W:%d S:%d F:%d Queue-Length:%d",
		rn, rr, rs, rf, wn, ww, ws, wf, wql,
	)
}
