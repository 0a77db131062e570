package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlagSetAssignsPowersOfTwoInOrder(t *testing.T) {
	set := NewFlagSet("test", "a", "b", "c")

	for i, f := range set.Flags() {
		bit, err := set.Bit(f)
		require.NoError(t, err)
		assert.Equal(t, Bitfield(1<<i), bit)
	}
}

func TestSetHasClear(t *testing.T) {
	set := NewFlagSet("test", "consent", "indexing")

	v, err := set.Set(0, "consent")
	require.NoError(t, err)

	has, err := set.Has(v, "consent")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = set.Has(v, "indexing")
	require.NoError(t, err)
	assert.False(t, has)

	v, err = set.Clear(v, "consent")
	require.NoError(t, err)
	assert.Equal(t, Bitfield(0), v)
}

func TestMergeUnionsBits(t *testing.T) {
	// old has bit0, new has bit1; the merge keeps both. A stale snapshot with
	// a consent bit unset must never clear a bit that was already granted.
	old := Bitfield(0b01)
	new := Bitfield(0b10)
	assert.Equal(t, Bitfield(0b11), Merge(old, new))

	assert.Equal(t, old, Merge(old, 0))
	assert.Equal(t, old, Merge(0, old))
}

func TestUnknownFlagFailsFast(t *testing.T) {
	set := NewFlagSet("test", "a")

	_, err := set.Has(0, "nope")
	var unknown *UnknownFlagError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, Flag("nope"), unknown.Flag)

	_, err = set.Set(0, "nope")
	assert.ErrorAs(t, err, &unknown)

	_, err = set.Clear(0, "nope")
	assert.ErrorAs(t, err, &unknown)
}

func TestDeclaredSetsAreDistinct(t *testing.T) {
	seen := map[Bitfield]Flag{}
	for _, f := range ChannelFlags.Flags() {
		bit, err := ChannelFlags.Bit(f)
		require.NoError(t, err)
		_, dup := seen[bit]
		require.False(t, dup, "duplicate bit for %s", f)
		seen[bit] = f
	}
}
