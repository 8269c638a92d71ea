// Package backy2 provides the block-transfer core of a deduplicating
// block-level backup system: two pipelined engines that move fixed-size
// blocks between a local file and an S3-compatible object store, sharing a
// bounded-queue/worker-pool/token-bucket foundation.
package backy2

import "github.com/m4k3r-org/backy2/pkg/block"

// BlockTransport is the capability shape both transfer engines share:
// report status and shut down. Submitting reads and writes and retrieving
// completed results have engine-specific signatures and are declared on
// FileTransport and BackendTransport. Upper layers wire these together — e.g.
// File.read -> hash -> Backend.save for backup, or Backend.read ->
// File.write for restore.
type BlockTransport interface {
	// Close shuts the engine down: every worker is sent a sentinel and
	// joined. The engine is not reusable afterward.
	Close() error
	// Status renders the current worker/queue state as one human-readable
	// line of text, for a TUI's status line.
	Status() string
}

// FileTransport is the file-engine half of BlockTransport: the read side
// produces ReadResults, the write side consumes WriteJobs.
type FileTransport interface {
	BlockTransport
	Read(b block.Block, sync bool) (block.Data, error)
	Write(b block.Block, data block.Data) error
	Get() (block.ReadResult, bool)
}

// BackendTransport is the object-store half of BlockTransport.
type BackendTransport interface {
	BlockTransport
	Save(data block.Data, sync bool) (string, error)
	Read(b block.Block, sync bool) (block.Data, error)
	ReadGet() (block.BackendReadResult, bool)
	Remove(uid string) error
	RemoveMany(uids []string) []string
	ReadRaw(uid string) (block.Data, error)
	AllBlobUIDs(prefix string) ([]string, error)
}
