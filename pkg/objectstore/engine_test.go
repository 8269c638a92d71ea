package objectstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m4k3r-org/backy2/internal/fserrors"
	"github.com/m4k3r-org/backy2/pkg/block"
)

func testConfig(endpoint string) Config {
	return Config{
		AccessKey:          "test-access",
		SecretKey:          "test-secret",
		Region:             "us-east-1",
		EndpointURL:        endpoint,
		UseSSL:             false,
		BucketName:         "backy2",
		AddressingStyle:    AddressingPath,
		SimultaneousReads:  2,
		SimultaneousWrites: 2,
	}
}

func TestEngine_SaveReadRaw_RoundTrips(t *testing.T) {
	stub := newMemoryS3()
	defer stub.close()

	e, err := New(testConfig(stub.server.URL))
	require.NoError(t, err)
	defer e.Close()

	uid, err := e.Save(block.Data("hello"), true)
	require.NoError(t, err)
	require.Len(t, uid, 32)

	data, err := e.ReadRaw(uid)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), []byte(data))
}

func TestEngine_Remove_ThenReadRaw_MissingKey(t *testing.T) {
	stub := newMemoryS3()
	defer stub.close()

	e, err := New(testConfig(stub.server.URL))
	require.NoError(t, err)
	defer e.Close()

	uid, err := e.Save(block.Data("hello"), true)
	require.NoError(t, err)

	require.NoError(t, e.Remove(uid))

	_, err = e.ReadRaw(uid)
	require.Error(t, err)
	require.True(t, fserrors.IsMissingKey(err))
}

func TestEngine_AsyncRead_ReturnsBlockPairedByID(t *testing.T) {
	stub := newMemoryS3()
	defer stub.close()

	e, err := New(testConfig(stub.server.URL))
	require.NoError(t, err)
	defer e.Close()

	uid, err := e.Save(block.Data("payload"), true)
	require.NoError(t, err)

	b := block.Block{ID: 7, UID: uid}
	_, err = e.Read(b, false)
	require.NoError(t, err)

	result, ok := e.ReadGet()
	require.True(t, ok)
	require.Equal(t, int64(7), result.Block.ID)
	require.True(t, result.Present())
	require.Equal(t, []byte("payload"), []byte(result.Data))
}

func TestEngine_Read_MissingUID_ReturnsAbsent(t *testing.T) {
	stub := newMemoryS3()
	defer stub.close()

	e, err := New(testConfig(stub.server.URL))
	require.NoError(t, err)
	defer e.Close()

	b := block.Block{ID: 1, UID: "does-not-exist-0000000000000000"}
	_, err = e.Read(b, false)
	require.NoError(t, err)

	result, ok := e.ReadGet()
	require.True(t, ok)
	require.False(t, result.Present())

	// The reader worker stays alive: a subsequent valid read still works.
	uid, err := e.Save(block.Data("still alive"), true)
	require.NoError(t, err)
	data, err := e.Read(block.Block{ID: 2, UID: uid}, true)
	require.NoError(t, err)
	require.Equal(t, []byte("still alive"), []byte(data))
}

func TestEngine_SyncRead_SingleWorker_ReturnsMatchingBlock(t *testing.T) {
	// With a single reader worker, sync reads never interleave, so the
	// id returned always matches what was requested. The mismatch branch
	// itself is a programming-error guard against mixing sync and async
	// reads on the same engine (see Read's doc comment) rather than a
	// condition this single-worker setup can provoke deterministically.
	stub := newMemoryS3()
	defer stub.close()

	cfg := testConfig(stub.server.URL)
	cfg.SimultaneousReads = 1
	e, err := New(cfg)
	require.NoError(t, err)
	defer e.Close()

	uid, err := e.Save(block.Data("x"), true)
	require.NoError(t, err)

	data, err := e.Read(block.Block{ID: 1, UID: uid}, true)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), []byte(data))
}

func TestEngine_AllBlobUIDs_ListsStoredKeys(t *testing.T) {
	stub := newMemoryS3()
	defer stub.close()

	e, err := New(testConfig(stub.server.URL))
	require.NoError(t, err)
	defer e.Close()

	u1, err := e.Save(block.Data("a"), true)
	require.NoError(t, err)
	u2, err := e.Save(block.Data("b"), true)
	require.NoError(t, err)

	uids, err := e.AllBlobUIDs("")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{u1, u2}, uids)
}

func TestEngine_Save_FailsImmediatelyWhenPoisoned(t *testing.T) {
	stub := newMemoryS3()
	defer stub.close()

	e, err := New(testConfig(stub.server.URL))
	require.NoError(t, err)
	defer e.Close()

	e.setFatal(fserrors.ErrLocalIO)

	_, err = e.Save(block.Data("x"), false)
	require.Error(t, err)
}
