package objectstore

import (
	"bytes"
	"io"
)

// bytesReader adapts a block's Data to the io.ReadSeeker PutObjectInput
// expects for its Body.
func bytesReader(data []byte) io.ReadSeeker {
	return bytes.NewReader(data)
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
