package artifactcache

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by artifactcache operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrCorrupt indicates an entry's metadata is damaged or does not match
	// the requested sources.
	//
	// It never escapes [Cache.ComputeIfAbsent]: a corrupt entry is deleted and
	// rebuilt. It is returned by [Cache.Verify] and [DecodeMetadata].
	ErrCorrupt = errors.New("artifactcache: corrupt")

	// ErrInvalidInput indicates invalid arguments were provided.
	//
	// Common causes: empty cache directory, empty target file name, native
	// file names containing NUL, nil producer.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("artifactcache: invalid input")

	// ErrProducer wraps failures returned by [Producer.Produce].
	ErrProducer = errors.New("artifactcache: producer failed")
)

// IntegrityReason names the rule a metadata blob violated.
type IntegrityReason string

// Integrity violation reasons. Each rejection rule of the metadata format
// has its own reason so tests and metrics can tell them apart.
const (
	ReasonTooShort         IntegrityReason = "too_short"
	ReasonBadMagic         IntegrityReason = "bad_magic"
	ReasonSchemaVersion    IntegrityReason = "schema_version"
	ReasonSourceCount      IntegrityReason = "source_count"
	ReasonTruncatedSource  IntegrityReason = "truncated_source"
	ReasonNativeFileCount  IntegrityReason = "native_file_count"
	ReasonNativeBlobLength IntegrityReason = "native_blob_length"
	ReasonTruncatedBlob    IntegrityReason = "truncated_blob"
	ReasonNativeBlobFormat IntegrityReason = "native_blob_format"
	ReasonTrailingBytes    IntegrityReason = "trailing_bytes"
	ReasonSourceMismatch   IntegrityReason = "source_mismatch"
	ReasonMissingPayload   IntegrityReason = "missing_payload"
	ReasonMissingMetadata  IntegrityReason = "missing_metadata"
)

// IntegrityError describes why an entry's metadata was rejected.
//
// It unwraps to [ErrCorrupt]:
//
//	var ie *artifactcache.IntegrityError
//	if errors.As(err, &ie) {
//	    fmt.Println(ie.Reason)
//	}
type IntegrityError struct {
	Reason IntegrityReason
	Detail string
}

// Error formats as "artifactcache: corrupt: <reason>: <detail>".
func (e *IntegrityError) Error() string {
	if e == nil {
		return ""
	}

	if e.Detail == "" {
		return fmt.Sprintf("%v: %s", ErrCorrupt, e.Reason)
	}

	return fmt.Sprintf("%v: %s: %s", ErrCorrupt, e.Reason, e.Detail)
}

// Unwrap returns [ErrCorrupt].
func (e *IntegrityError) Unwrap() error {
	return ErrCorrupt
}

func integrityErr(reason IntegrityReason, format string, args ...any) error {
	return &IntegrityError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// integrityReason extracts the reason from err, or "" if err is not an
// integrity violation.
func integrityReason(err error) IntegrityReason {
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return ie.Reason
	}

	return ""
}
