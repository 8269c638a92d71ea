// Package objectstore implements ObjectBackendEngine: the half of the
// block-transfer core that persists deduplicated blocks as objects in an
// S3-compatible store, one object per block, named by a uniformly
// distributed UID.
package objectstore

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/m4k3r-org/backy2/internal/fserrors"
	"github.com/m4k3r-org/backy2/internal/fslog"
	"github.com/m4k3r-org/backy2/pkg/block"
	"github.com/m4k3r-org/backy2/pkg/queue"
	"github.com/m4k3r-org/backy2/pkg/ratelimit"
	"github.com/m4k3r-org/backy2/pkg/uidgen"
)

// DefaultWriteQueueLength and DefaultReadDataQueueLength pad the bounded
// queues beyond the worker count, matching backy2's
// data_backends/s3.py constants.
const (
	DefaultWriteQueueLength    = 20
	DefaultReadDataQueueLength = 20
)

// WorkerState is the small state machine each reader/writer worker
// advances through, exposed only for operator status.
type WorkerState int32

const (
	StateNothing WorkerState = iota
	StateReading
	StateWriting
	StateThrottling
	StateNewKey
)

type readOutput struct {
	sentinel bool
	result   block.BackendReadResult
}

// Engine is an ObjectBackendEngine, backed by an S3-compatible store.
type Engine struct {
	cfg    Config
	uids   *uidgen.Generator
	sess   *session.Session

	readBucket  *ratelimit.TokenBucket
	writeBucket *ratelimit.TokenBucket

	readerStates []int32
	writerStates []int32

	readQueue     *queue.Unbounded[*block.Block]
	readDataQueue *queue.Bounded[readOutput]
	readWG        sync.WaitGroup

	writeQueue *queue.Bounded[*block.BackendWriteJob]
	writeWG    sync.WaitGroup

	fatalMu  sync.Mutex
	fatalErr error

	closed atomic.Bool
}

// New validates cfg, opens the long-lived S3 session, and starts
// SimultaneousReads/SimultaneousWrites worker pools.
func New(cfg Config) (*Engine, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("%w: bucket_name is required", fserrors.ErrConfig)
	}
	accessKey, err := cfg.resolveAccessKey()
	if err != nil {
		return nil, fmt.Errorf("%w: reading access key: %v", fserrors.ErrConfig, err)
	}
	secretKey, err := cfg.resolveSecretKey()
	if err != nil {
		return nil, fmt.Errorf("%w: reading secret key: %v", fserrors.ErrConfig, err)
	}
	if cfg.AddressingStyle != "" && cfg.AddressingStyle != AddressingPath && cfg.AddressingStyle != AddressingVirtual {
		return nil, fmt.Errorf("%w: addressing_style must be %q or %q, got %q", fserrors.ErrConfig, AddressingPath, AddressingVirtual, cfg.AddressingStyle)
	}
	// aws-sdk-go v1 always signs S3 requests with SigV4; unlike boto it
	// exposes no supported way to force SigV2 for a legacy-compatible
	// store, so signature_version is only accepted when it already
	// matches what the client does.
	if cfg.SignatureVersion != "" && cfg.SignatureVersion != "s3v4" {
		return nil, fmt.Errorf("%w: signature_version %q is not supported (only %q)", fserrors.ErrConfig, cfg.SignatureVersion, "s3v4")
	}

	awsCfg := aws.NewConfig().
		WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, "")).
		WithS3ForcePathStyle(cfg.AddressingStyle == AddressingPath).
		WithDisableSSL(!cfg.UseSSL)
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.EndpointURL != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.EndpointURL)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: opening s3 session: %v", fserrors.ErrConfig, err)
	}

	e := &Engine{
		cfg:           cfg,
		uids:          uidgen.New(),
		sess:          sess,
		readBucket:    ratelimit.New(cfg.BandwidthRead),
		writeBucket:   ratelimit.New(cfg.BandwidthWrite),
		readerStates:  make([]int32, cfg.SimultaneousReads),
		writerStates:  make([]int32, cfg.SimultaneousWrites),
		readQueue:     queue.NewUnbounded[*block.Block](),
		readDataQueue: queue.NewBounded[readOutput](cfg.SimultaneousReads + DefaultReadDataQueueLength),
		writeQueue:    queue.NewBounded[*block.BackendWriteJob](cfg.SimultaneousWrites + DefaultWriteQueueLength),
	}

	for i := 0; i < cfg.SimultaneousWrites; i++ {
		e.writeWG.Add(1)
		go e.writerLoop(i)
	}
	for i := 0; i < cfg.SimultaneousReads; i++ {
		e.readWG.Add(1)
		go e.readerLoop(i)
	}
	return e, nil
}

// client creates a new S3 client over the engine's shared session. Each
// worker calls it once when it starts, so no two workers share a client.
func (e *Engine) client() *s3.S3 {
	return s3.New(e.sess)
}

func (e *Engine) setFatal(err error) {
	e.fatalMu.Lock()
	defer e.fatalMu.Unlock()
	if e.fatalErr == nil {
		e.fatalErr = err
	}
}

// Err returns the first fatal error poisoning the engine, or nil.
func (e *Engine) Err() error {
	e.fatalMu.Lock()
	defer e.fatalMu.Unlock()
	return e.fatalErr
}

func (e *Engine) writerLoop(id int) {
	defer e.writeWG.Done()

	c := e.client()
	for {
		job := e.writeQueue.Get()
		if job == nil || e.Err() != nil {
			if job != nil {
				e.writeQueue.TaskDone()
			}
			fslog.Debugf(logrus.Fields{"worker": id}, "backend writer finishing")
			return
		}

		atomic.StoreInt32(&e.writerStates[id], int32(StateThrottling))
		time.Sleep(e.writeBucket.Consume(int64(len(job.Data))))
		atomic.StoreInt32(&e.writerStates[id], int32(StateNothing))

		atomic.StoreInt32(&e.writerStates[id], int32(StateWriting))
		_, err := c.PutObject(&s3.PutObjectInput{
			Bucket: aws.String(e.cfg.BucketName),
			Key:    aws.String(job.UID),
			Body:   bytesReader(job.Data),
		})
		atomic.StoreInt32(&e.writerStates[id], int32(StateNothing))

		if err != nil {
			e.setFatal(fmt.Errorf("put object %s: %w", job.UID, err))
			fslog.Errorf(logrus.Fields{"worker": id, "uid": job.UID}, "write failed, poisoning engine: %v", err)
			e.writeQueue.TaskDone()
			continue
		}

		fslog.Debugf(logrus.Fields{"worker": id, "uid": job.UID}, "wrote object (len %d)", len(job.Data))
		e.writeQueue.TaskDone()
	}
}

func (e *Engine) readerLoop(id int) {
	defer e.readWG.Done()

	c := e.client()
	for {
		b := e.readQueue.Get()
		if b == nil || e.Err() != nil {
			fslog.Debugf(logrus.Fields{"worker": id}, "backend reader finishing")
			return
		}

		atomic.StoreInt32(&e.readerStates[id], int32(StateReading))
		data, err := e.readRaw(c, b.UID)
		atomic.StoreInt32(&e.readerStates[id], int32(StateNothing))

		if err != nil {
			if fserrors.IsMissingKey(err) {
				e.readDataQueue.Put(readOutput{result: block.BackendReadResult{Block: *b, Data: nil}})
				continue
			}
			// readRaw only returns an error here once its internal
			// retry-on-transient loop has given up on a permanent
			// provider error; that poisons the engine the same way a
			// write failure does.
			e.setFatal(fmt.Errorf("get object %s: %w", b.UID, err))
			fslog.Errorf(logrus.Fields{"worker": id, "uid": b.UID}, "read failed, poisoning engine: %v", err)
			e.readDataQueue.Put(readOutput{result: block.BackendReadResult{Block: *b, Data: nil}})
			continue
		}

		atomic.StoreInt32(&e.readerStates[id], int32(StateThrottling))
		time.Sleep(e.readBucket.Consume(int64(len(data))))
		atomic.StoreInt32(&e.readerStates[id], int32(StateNothing))

		e.readDataQueue.Put(readOutput{result: block.BackendReadResult{Block: *b, Data: data}})
	}
}

// readRaw is the synchronous, retry-on-transient-error read used by both
// the background reader loop and non-pipelined callers. It loops forever
// around GetObject: missing-key and permanent provider errors return
// immediately, transient transport errors are logged and retried with no
// maximum attempt count — large restores should not fail because of a
// transient provider hiccup.
func (e *Engine) ReadRaw(uid string) (block.Data, error) {
	return e.readRaw(e.client(), uid)
}

func (e *Engine) readRaw(c *s3.S3, uid string) (block.Data, error) {
	for {
		out, err := c.GetObject(&s3.GetObjectInput{
			Bucket: aws.String(e.cfg.BucketName),
			Key:    aws.String(uid),
		})
		if err != nil {
			if fserrors.IsNoSuchKey(err) {
				return nil, &fserrors.MissingKeyError{UID: uid}
			}
			if fserrors.ShouldRetry(err) {
				fslog.Warnf(logrus.Fields{"uid": uid}, "transient error fetching from backend, retrying: %v", err)
				continue
			}
			return nil, fmt.Errorf("provider error fetching %s: %w", uid, err)
		}
		data, readErr := readAll(out.Body)
		out.Body.Close()
		if readErr != nil {
			fslog.Warnf(logrus.Fields{"uid": uid}, "transient error reading body, retrying: %v", readErr)
			continue
		}
		return data, nil
	}
}

// Save generates a fresh UID, enqueues (uid, data) for the writer pool, and
// returns the UID immediately. When sync is true it blocks until the write
// queue has fully drained. Fails immediately with the engine's poisoning
// error if one has already been recorded.
func (e *Engine) Save(data block.Data, sync bool) (string, error) {
	if err := e.Err(); err != nil {
		return "", err
	}
	uid := e.uids.Next()
	e.writeQueue.Put(&block.BackendWriteJob{UID: uid, Data: data})
	if sync {
		e.writeQueue.Join()
		if err := e.Err(); err != nil {
			return "", err
		}
	}
	return uid, nil
}

// Read enqueues block for reading. When sync is true it drains one result
// synchronously; a mismatched block id is a programming error, and an
// absent result is a missing-key error.
func (e *Engine) Read(b block.Block, sync bool) (block.Data, error) {
	e.readQueue.Put(&b)
	if !sync {
		return nil, nil
	}
	result, ok := e.ReadGet()
	if !ok {
		return nil, fmt.Errorf("%w: reader closed before sync read completed", fserrors.ErrClosed)
	}
	if result.Block.ID != b.ID {
		return nil, fmt.Errorf("%w: do not mix threaded reading with sync reading (requested %d, got %d)", fserrors.ErrProgramming, b.ID, result.Block.ID)
	}
	if !result.Present() {
		return nil, &fserrors.MissingKeyError{UID: b.UID}
	}
	return result.Data, nil
}

// ReadGet removes and returns the next completed read.
func (e *Engine) ReadGet() (block.BackendReadResult, bool) {
	out := e.readDataQueue.Get()
	if out.sentinel {
		return block.BackendReadResult{}, false
	}
	return out.result, true
}

// ReadQueueSize reports the number of reads currently pending.
func (e *Engine) ReadQueueSize() int {
	return e.readQueue.Len()
}

// Remove HEADs the object first (to produce a deterministic missing-key
// error) then deletes it.
func (e *Engine) Remove(uid string) error {
	c := e.client()
	_, err := c.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(e.cfg.BucketName),
		Key:    aws.String(uid),
	})
	if err != nil {
		if fserrors.IsNoSuchKey(err) {
			return &fserrors.MissingKeyError{UID: uid}
		}
		return fmt.Errorf("provider error heading %s: %w", uid, err)
	}
	_, err = c.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(e.cfg.BucketName),
		Key:    aws.String(uid),
	})
	if err != nil {
		return fmt.Errorf("provider error deleting %s: %w", uid, err)
	}
	return nil
}

// RemoveMany calls Remove for every uid, one object at a time, and returns
// the uids whose removal failed (nil when all succeeded).
func (e *Engine) RemoveMany(uids []string) []string {
	var failed []string
	for _, uid := range uids {
		if err := e.Remove(uid); err != nil {
			failed = append(failed, uid)
		}
	}
	return failed
}

// AllBlobUIDs lists every object key in the bucket, optionally filtered by
// prefix.
func (e *Engine) AllBlobUIDs(prefix string) ([]string, error) {
	c := e.client()
	var uids []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(e.cfg.BucketName),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if e.cfg.DisableEncodingType {
		input.EncodingType = nil
	} else {
		input.EncodingType = aws.String(s3.EncodingTypeUrl)
	}

	err := c.ListObjectsV2Pages(input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			uids = append(uids, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("provider error listing objects: %w", err)
	}
	return uids, nil
}

// QueueStatus reports the read-data and write queue fill ratios as floats
// in [0,1].
func (e *Engine) QueueStatus() (readFilled, writeFilled float64) {
	if e.readDataQueue.Cap() > 0 {
		readFilled = float64(e.readDataQueue.Len()) / float64(e.readDataQueue.Cap())
	}
	if e.writeQueue.Cap() > 0 {
		writeFilled = float64(e.writeQueue.Len()) / float64(e.writeQueue.Cap())
	}
	return
}

// Status renders reader/writer worker state counts and queue depths as one
// line, for a TUI.
func (e *Engine) Status() string {
	var rn, rr, wn, ww, wt int
	for i := range e.readerStates {
		if WorkerState(atomic.LoadInt32(&e.readerStates[i])) == StateReading {
			rr++
		} else {
			rn++
		}
	}
	for i := range e.writerStates {
		switch WorkerState(atomic.LoadInt32(&e.writerStates[i])) {
		case StateWriting:
			ww++
		case StateThrottling:
			wt++
		default:
			wn++
		}
	}
	return fmt.Sprintf(
		"DaBaR: N%d R%d QL%d  DaBaW: N%d W%d T%d QL%d",
		rn, rr, e.readQueue.Len(),
		wn, ww, wt, e.writeQueue.Len(),
	)
}

// Close shuts every worker pool down: one sentinel per worker, then join.
// A reader inside readRaw's retry loop keeps retrying until readRaw
// returns, and observes the sentinel only on its next dequeue.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	for i := 0; i < e.cfg.SimultaneousWrites; i++ {
		e.writeQueue.Put(nil)
	}
	e.writeWG.Wait()
	for i := 0; i < e.cfg.SimultaneousReads; i++ {
		e.readQueue.Put(nil)
	}
	e.readWG.Wait()
	return nil
}
