package artifactcache

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CandidateIndex_Deduplicates_And_Drains_In_FIFO_Order(t *testing.T) {
	t.Parallel()

	ci, err := newCandidateIndex(10)
	require.NoError(t, err)

	a := entryRef{shard: "ab", stem: "ab-1__a"}
	b := entryRef{shard: "cd", stem: "cd-1__b"}

	ci.add(a)
	ci.add(b)
	ci.add(a)

	assert.Equal(t, 2, ci.len())

	if diff := cmp.Diff([]entryRef{a, b}, ci.drain(), cmp.AllowUnexported(entryRef{})); diff != "" {
		t.Fatalf("drain (-want +got):\n%s", diff)
	}

	assert.Zero(t, ci.len())
	assert.Empty(t, ci.drain())

	ci.add(a)
	assert.Equal(t, 1, ci.len(), "drained refs can be queued again")
}

func Test_CandidateIndex_Stays_Bounded_When_Tens_Of_Thousands_Are_Queued(t *testing.T) {
	t.Parallel()

	const limit = 100

	ci, err := newCandidateIndex(limit)
	require.NoError(t, err)

	for i := range 50_000 {
		ci.add(entryRef{shard: "aa", stem: fmt.Sprintf("aa-%d__x", i)})
	}

	got := ci.drain()
	assert.Len(t, got, limit)
	assert.Equal(t, "aa-49900__x", got[0].stem, "oldest refs are evicted first")
	assert.Equal(t, "aa-49999__x", got[limit-1].stem)
}

func Test_CandidateIndex_Requeue_Does_Not_Refresh_Position_When_Full(t *testing.T) {
	t.Parallel()

	ci, err := newCandidateIndex(2)
	require.NoError(t, err)

	a := entryRef{shard: "aa", stem: "aa-1__a"}
	b := entryRef{shard: "bb", stem: "bb-1__b"}
	c := entryRef{shard: "cc", stem: "cc-1__c"}

	ci.add(a)
	ci.add(b)
	ci.add(a)
	ci.add(c)

	if diff := cmp.Diff([]entryRef{b, c}, ci.drain(), cmp.AllowUnexported(entryRef{})); diff != "" {
		t.Fatalf("drain (-want +got):\n%s", diff)
	}
}

func Test_NewCandidateIndex_Returns_Error_When_Size_Is_Not_Positive(t *testing.T) {
	t.Parallel()

	_, err := newCandidateIndex(0)
	require.Error(t, err)
}
