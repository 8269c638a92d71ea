package backy2

import (
	"github.com/m4k3r-org/backy2/pkg/fileio"
	"github.com/m4k3r-org/backy2/pkg/objectstore"
)

// Compile-time assertions that both engines satisfy the shared capability
// shape the upper orchestration layer wires against.
var (
	_ FileTransport    = (*fileio.Engine)(nil)
	_ BackendTransport = (*objectstore.Engine)(nil)
)
