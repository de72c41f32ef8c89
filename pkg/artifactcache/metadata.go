package artifactcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Metadata format constants. All integers are big-endian.
//
//	magic:int32 | schema:int32 | count:int32 |
//	count × { size:int32 | hash:int64 | nativeCount:int32 | blobLen:int32 | blob }
const (
	metaMagic         = 0x4A434D31
	metaSchemaVersion = 2
	metaHeaderSize    = 12
	metaSourceSize    = 20

	// Sanity ceilings for a single source record.
	maxNativeFiles    = 1 << 16
	maxNativeBlobSize = 16 << 20
)

// Source is one input of a cached artifact, identified by its content hash.
type Source interface {
	Size() int32
	Hash() int64
}

// SourceInfo is the metadata recorded for one source of an entry.
type SourceInfo struct {
	Size        int32
	Hash        int64
	NativeFiles []string
}

// EncodeMetadata serializes infos into the metadata sidecar format.
//
// Native file names must not contain NUL, which delimits them in the blob.
func EncodeMetadata(infos []SourceInfo) ([]byte, error) {
	size := metaHeaderSize

	for i, info := range infos {
		if len(info.NativeFiles) > maxNativeFiles {
			return nil, fmt.Errorf("%w: source %d has %d native files (max %d)",
				ErrInvalidInput, i, len(info.NativeFiles), maxNativeFiles)
		}

		blobLen := 0

		for _, name := range info.NativeFiles {
			if strings.IndexByte(name, 0) >= 0 {
				return nil, fmt.Errorf("%w: native file name %q contains NUL", ErrInvalidInput, name)
			}

			blobLen += len(name)
		}

		if n := len(info.NativeFiles); n > 1 {
			blobLen += n - 1
		}

		if blobLen > maxNativeBlobSize {
			return nil, fmt.Errorf("%w: source %d native blob is %d bytes (max %d)",
				ErrInvalidInput, i, blobLen, maxNativeBlobSize)
		}

		size += metaSourceSize + blobLen
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, metaMagic)
	buf = binary.BigEndian.AppendUint32(buf, metaSchemaVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(infos)))

	for _, info := range infos {
		blob := strings.Join(info.NativeFiles, "\x00")

		buf = binary.BigEndian.AppendUint32(buf, uint32(info.Size))
		buf = binary.BigEndian.AppendUint64(buf, uint64(info.Hash))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(info.NativeFiles)))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(blob)))
		buf = append(buf, blob...)
	}

	return buf, nil
}

// DecodeMetadata parses a metadata sidecar. Every structural problem is
// reported as an [*IntegrityError] naming the rule that failed.
func DecodeMetadata(data []byte) ([]SourceInfo, error) {
	if len(data) < metaHeaderSize {
		return nil, integrityErr(ReasonTooShort, "%d bytes, header needs %d", len(data), metaHeaderSize)
	}

	if magic := binary.BigEndian.Uint32(data[0:4]); magic != metaMagic {
		return nil, integrityErr(ReasonBadMagic, "got 0x%08X", magic)
	}

	if schema := int32(binary.BigEndian.Uint32(data[4:8])); schema != metaSchemaVersion {
		return nil, integrityErr(ReasonSchemaVersion, "got %d, want %d", schema, metaSchemaVersion)
	}

	count := int32(binary.BigEndian.Uint32(data[8:12]))
	rest := data[metaHeaderSize:]

	if count < 0 || int64(count)*metaSourceSize > int64(len(rest)) {
		return nil, integrityErr(ReasonSourceCount, "%d sources cannot fit in %d bytes", count, len(rest))
	}

	infos := make([]SourceInfo, 0, count)

	for i := range int(count) {
		if len(rest) < metaSourceSize {
			return nil, integrityErr(ReasonTruncatedSource, "source %d: %d bytes left", i, len(rest))
		}

		size := int32(binary.BigEndian.Uint32(rest[0:4]))
		hash := int64(binary.BigEndian.Uint64(rest[4:12]))
		nativeCount := int32(binary.BigEndian.Uint32(rest[12:16]))
		blobLen := int32(binary.BigEndian.Uint32(rest[16:20]))
		rest = rest[metaSourceSize:]

		if nativeCount < 0 || nativeCount > maxNativeFiles {
			return nil, integrityErr(ReasonNativeFileCount, "source %d: %d native files", i, nativeCount)
		}

		if blobLen < 0 || blobLen > maxNativeBlobSize {
			return nil, integrityErr(ReasonNativeBlobLength, "source %d: blob length %d", i, blobLen)
		}

		if int(blobLen) > len(rest) {
			return nil, integrityErr(ReasonTruncatedBlob, "source %d: blob length %d, %d bytes left", i, blobLen, len(rest))
		}

		names, err := decodeNativeBlob(rest[:blobLen], int(nativeCount))
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}

		rest = rest[blobLen:]

		infos = append(infos, SourceInfo{Size: size, Hash: hash, NativeFiles: names})
	}

	if len(rest) != 0 {
		return nil, integrityErr(ReasonTrailingBytes, "%d bytes after %d sources", len(rest), count)
	}

	return infos, nil
}

// decodeNativeBlob splits blob at exactly count-1 NUL bytes.
func decodeNativeBlob(blob []byte, count int) ([]string, error) {
	if count == 0 {
		if len(blob) != 0 {
			return nil, integrityErr(ReasonNativeBlobFormat, "%d blob bytes for zero native files", len(blob))
		}

		return nil, nil
	}

	parts := bytes.SplitN(blob, []byte{0}, count)
	if len(parts) != count {
		return nil, integrityErr(ReasonNativeBlobFormat, "found %d names, want %d", len(parts), count)
	}

	if bytes.IndexByte(parts[count-1], 0) >= 0 {
		return nil, integrityErr(ReasonNativeBlobFormat, "more than %d separators", count-1)
	}

	names := make([]string, count)
	for i, p := range parts {
		names[i] = string(p)
	}

	return names, nil
}

// matchSources reports whether recorded metadata describes exactly the
// current sources: same count and same hashes, in order.
func matchSources(recorded []SourceInfo, sources []Source) error {
	if len(recorded) != len(sources) {
		return integrityErr(ReasonSourceMismatch, "recorded %d sources, have %d", len(recorded), len(sources))
	}

	for i, src := range sources {
		if recorded[i].Hash != src.Hash() {
			return integrityErr(ReasonSourceMismatch, "source %d: recorded hash %d, have %d", i, recorded[i].Hash, src.Hash())
		}
	}

	return nil
}
