// Package fserrors classifies the error taxonomy the transfer engines care
// about, in the style of rclone's fs/fserrors package: sentinel errors for
// the cases spec'd in the design, plus helpers for telling a transient
// transport failure from a permanent one.
package fserrors

import (
	"errors"
	"net"

	"github.com/aws/aws-sdk-go/aws/awserr"
)

// Sentinel errors for the taxonomy of conditions the engines raise.
var (
	// ErrConfig marks a malformed URI, missing credentials, or bad
	// addressing style — raised synchronously from open/construct.
	ErrConfig = errors.New("configuration error")

	// ErrMissingKey marks a read against an object that does not exist in
	// the backend.
	ErrMissingKey = errors.New("missing key")

	// ErrLocalIO marks a short read on an in-bounds block, or a write
	// whose verified byte count didn't match what was offered. Fatal; not
	// retried.
	ErrLocalIO = errors.New("local i/o error")

	// ErrProgramming marks misuse of the engine contract: mixing sync and
	// async reads, writing before open_w, or using an engine after
	// close.
	ErrProgramming = errors.New("programming error")

	// ErrClosed marks use of an engine after Close has returned.
	ErrClosed = errors.New("engine closed")
)

// MissingKeyError wraps ErrMissingKey with the UID that was not found.
type MissingKeyError struct {
	UID string
}

func (e *MissingKeyError) Error() string {
	return "key " + e.UID + " not found"
}

func (e *MissingKeyError) Unwrap() error { return ErrMissingKey }

// IsMissingKey reports whether err is (or wraps) a missing-key condition.
func IsMissingKey(err error) bool {
	return errors.Is(err, ErrMissingKey)
}

// ShouldRetry reports whether err looks like a transient transport failure
// that read_raw should retry indefinitely: socket timeouts and connection
// resets, mirroring backy2's catch of socket.timeout / OSError around
// get_object.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case "RequestError", "RequestTimeout", "RequestTimeoutException",
			"ECONNRESET", "EPIPE":
			return true
		}
		if orig := awsErr.OrigErr(); orig != nil {
			return ShouldRetry(orig)
		}
	}
	return false
}

// IsNoSuchKey reports whether err is the AWS SDK's not-found response for
// GetObject/HeadObject (404 or NoSuchKey).
func IsNoSuchKey(err error) bool {
	awsErr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch awsErr.Code() {
	case "NoSuchKey", "NotFound", "404":
		return true
	}
	return false
}
