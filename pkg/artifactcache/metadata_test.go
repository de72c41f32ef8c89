package artifactcache

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Metadata_Roundtrips_When_Sources_Have_Varied_Native_Files(t *testing.T) {
	t.Parallel()

	want := []SourceInfo{
		{Size: 0, Hash: 0},
		{Size: 42, Hash: -7, NativeFiles: []string{}},
		{Size: 1 << 30, Hash: 1 << 62, NativeFiles: []string{"libfoo.so"}},
		{Size: -1, Hash: 99, NativeFiles: []string{"a.dll", "", "lib/ü.dylib"}},
	}

	data, err := EncodeMetadata(want)
	require.NoError(t, err)

	got, err := DecodeMetadata(data)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func Test_EncodeMetadata_Writes_Big_Endian_Header(t *testing.T) {
	t.Parallel()

	data, err := EncodeMetadata([]SourceInfo{{Size: 3, Hash: 5, NativeFiles: []string{"a", "bc"}}})
	require.NoError(t, err)

	assert.Equal(t, uint32(0x4A434D31), binary.BigEndian.Uint32(data[0:4]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(data[8:12]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(data[24:28]))
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(data[28:32]))
	assert.Equal(t, "a\x00bc", string(data[32:]))
}

func Test_EncodeMetadata_Rejects_Native_File_Name_Containing_NUL(t *testing.T) {
	t.Parallel()

	_, err := EncodeMetadata([]SourceInfo{{NativeFiles: []string{"ok", "bad\x00name"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func Test_DecodeMetadata_Reports_Distinct_Reason_For_Each_Violation(t *testing.T) {
	t.Parallel()

	valid, err := EncodeMetadata([]SourceInfo{{Size: 1, Hash: 2, NativeFiles: []string{"x", "y"}}})
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), valid...))
	}

	putInt := func(b []byte, off int, v int32) []byte {
		binary.BigEndian.PutUint32(b[off:], uint32(v))

		return b
	}

	testCases := []struct {
		name string
		data []byte
		want IntegrityReason
	}{
		{name: "FourBytes", data: valid[:4], want: ReasonTooShort},
		{name: "Empty", data: nil, want: ReasonTooShort},
		{name: "FlippedMagic", data: mutate(func(b []byte) []byte { b[0] ^= 0xFF; return b }), want: ReasonBadMagic},
		{name: "SchemaVersion", data: mutate(func(b []byte) []byte { return putInt(b, 4, 1) }), want: ReasonSchemaVersion},
		{name: "NegativeSourceCount", data: mutate(func(b []byte) []byte { return putInt(b, 8, -1) }), want: ReasonSourceCount},
		{name: "InflatedSourceCount", data: mutate(func(b []byte) []byte { return putInt(b, 8, 1000) }), want: ReasonSourceCount},
		{name: "NegativeNativeCount", data: mutate(func(b []byte) []byte { return putInt(b, 24, -3) }), want: ReasonNativeFileCount},
		{name: "HugeNativeCount", data: mutate(func(b []byte) []byte { return putInt(b, 24, maxNativeFiles+1) }), want: ReasonNativeFileCount},
		{name: "NegativeBlobLength", data: mutate(func(b []byte) []byte { return putInt(b, 28, -1) }), want: ReasonNativeBlobLength},
		{name: "OversizedBlobLength", data: mutate(func(b []byte) []byte { return putInt(b, 28, maxNativeBlobSize+1) }), want: ReasonNativeBlobLength},
		{name: "BlobBeyondBuffer", data: mutate(func(b []byte) []byte { return putInt(b, 28, 100) }), want: ReasonTruncatedBlob},
		{name: "TooFewSeparators", data: mutate(func(b []byte) []byte { return putInt(b, 24, 3) }), want: ReasonNativeBlobFormat},
		{name: "ExtraSeparator", data: mutate(func(b []byte) []byte { b[len(b)-1] = 0; return b }), want: ReasonNativeBlobFormat},
		{name: "BlobWithoutFiles", data: mutate(func(b []byte) []byte { return putInt(b, 24, 0) }), want: ReasonNativeBlobFormat},
		{name: "TrailingBytes", data: mutate(func(b []byte) []byte { return append(b, 0) }), want: ReasonTrailingBytes},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeMetadata(tc.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorrupt), "err = %v", err)

			var ie *IntegrityError
			require.True(t, errors.As(err, &ie), "err = %v", err)
			assert.Equal(t, tc.want, ie.Reason, "err = %v", err)
		})
	}
}

func Test_DecodeMetadata_Reports_Truncated_Source_When_Second_Record_Is_Cut(t *testing.T) {
	t.Parallel()

	data, err := EncodeMetadata([]SourceInfo{{Size: 1, Hash: 1}, {Size: 2, Hash: 2}})
	require.NoError(t, err)

	// Claim a native blob in the first record that swallows part of the
	// second record's fixed fields.
	binary.BigEndian.PutUint32(data[24:28], 1)
	binary.BigEndian.PutUint32(data[28:32], 10)

	for i := 32; i < 42; i++ {
		data[i] = 'a'
	}

	_, err = DecodeMetadata(data)
	assert.Equal(t, ReasonTruncatedSource, integrityReason(err), "err = %v", err)
}

func Test_MatchSources_Requires_Same_Count_And_Hashes_In_Order(t *testing.T) {
	t.Parallel()

	recorded := []SourceInfo{{Hash: 1}, {Hash: 2}}

	require.NoError(t, matchSources(recorded, makeSources(1, 2)))
	assert.Equal(t, ReasonSourceMismatch, integrityReason(matchSources(recorded, makeSources(2, 1))))
	assert.Equal(t, ReasonSourceMismatch, integrityReason(matchSources(recorded, makeSources(1))))
}
