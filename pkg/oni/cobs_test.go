package oni

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCOBSRoundTrip(t *testing.T) {
	cases := [][]byte{
		{0x01},
		{0x00},
		{0x11, 0x22, 0x00, 0x33},
		{0x00, 0x00, 0x00},
		make([]byte, 10),
	}
	for _, src := range cases {
		stuffed, err := EncodeCOBS(src)
		require.NoError(t, err)
		assert.Len(t, stuffed, len(src)+2, "encoded length must be len(src)+2")

		back, err := DecodeCOBS(stuffed)
		require.NoError(t, err)
		assert.Equal(t, src, back)
	}
}

// TestCOBSLongRunNoSpuriousGroup exercises the exactly-254-nonzero-bytes
// edge case: a forced group split must never open a trailing empty group
// when the run ends exactly on the src boundary.
func TestCOBSLongRunNoSpuriousGroup(t *testing.T) {
	src := make([]byte, cobsMaxData)
	for i := range src {
		src[i] = byte(i + 1)
	}

	stuffed, err := EncodeCOBS(src)
	require.NoError(t, err)
	assert.Len(t, stuffed, len(src)+2, "254 non-zero bytes must not produce a trailing empty group")

	back, err := DecodeCOBS(stuffed)
	require.NoError(t, err)
	assert.Equal(t, src, back)
}

func TestCOBSKnownVector(t *testing.T) {
	stuffed, err := EncodeCOBS([]byte("Hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 'H', 'i', 0x00}, stuffed)

	back, err := DecodeCOBS(stuffed)
	require.NoError(t, err)
	assert.Equal(t, []byte("Hi"), back)
}

func TestCOBSEncodeRejectsOutOfRange(t *testing.T) {
	_, err := EncodeCOBS(nil)
	assert.Error(t, err)

	_, err = EncodeCOBS(make([]byte, cobsMaxData+1))
	assert.Error(t, err)
}

func TestCOBSDecodeRejectsMalformed(t *testing.T) {
	_, err := DecodeCOBS([]byte{0x02, 0x01}) // missing delimiter
	assert.Error(t, err)

	_, err = DecodeCOBS([]byte{0x00}) // too short
	assert.Error(t, err)

	_, err = DecodeCOBS([]byte{0x03, 0x01, 0x00}) // code overruns body
	assert.Error(t, err)
}
