// Package block defines the data model shared by the file and object-store
// transfer engines: the externally-owned Block descriptor, the bytes that
// travel with it, and the job/result pairs the engines exchange with their
// queues.
package block

// Block is an externally-owned descriptor. Engines read these fields only
// and never mutate them.
type Block struct {
	// ID is the non-negative ordinal of the block along the source file.
	ID int64
	// UID is the object-store key the block has been stored under. Empty
	// when the block has not been saved yet.
	UID string
	// Valid is false when the block is being re-read because prior data
	// was suspect.
	Valid bool
}

// Data is a variable-length byte sequence of length <= the engine's
// configured block size.
type Data []byte

// Checksum is the hex digest produced by the caller-supplied hash function
// over a block's Data.
type Checksum string

// WriteJob pairs a Block with the Data to write at its offset.
type WriteJob struct {
	Block Block
	Data  Data
}

// ReadResult is what the file engine returns for a completed read: the
// originating Block, its Data, and the Data's Checksum.
type ReadResult struct {
	Block    Block
	Data     Data
	Checksum Checksum
}

// BackendWriteJob pairs a pre-generated UID with the Data to store under it.
type BackendWriteJob struct {
	UID  string
	Data Data
}

// BackendReadResult is what the object-store engine returns for a completed
// read: the originating Block and its Data, or nil Data on a missing key.
type BackendReadResult struct {
	Block Block
	Data  Data
}

// Present reports whether the read actually found data for the block's UID.
func (r BackendReadResult) Present() bool {
	return r.Data != nil
}
