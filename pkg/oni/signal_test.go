package oni

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSignalPacketRoundTrip(t *testing.T) {
	fd := newFakeDriver()
	fd.pushSignal(SigConfigWriteAck, []byte{0x01, 0x02})

	payload, err := readSignalPacket(context.Background(), fd)
	require.NoError(t, err)
	assert.Equal(t, uint32(SigConfigWriteAck), decodeU32(payload[:4]))
	assert.Equal(t, []byte{0x01, 0x02}, payload[4:])
}

// TestPumpUntilSkipsNonMatching exercises the pump loop's silent
// skip-and-retry behavior: a non-matching packet in front of the wanted
// one must not abort the pump.
func TestPumpUntilSkipsNonMatching(t *testing.T) {
	fd := newFakeDriver()
	fd.pushSignal(SigConfigReadNack, nil)
	fd.pushSignal(SigConfigWriteAck, []byte{0xAA})

	typ, payload, err := pumpUntil(context.Background(), fd, SigConfigWriteAck|SigConfigWriteNack)
	require.NoError(t, err)
	assert.Equal(t, SigConfigWriteAck, typ)
	assert.Equal(t, []byte{0xAA}, payload)
}

func TestPumpUntilFailsWhenStreamExhausted(t *testing.T) {
	fd := newFakeDriver()
	fd.pushSignal(SigNull, nil)

	_, _, err := pumpUntil(context.Background(), fd, SigConfigWriteAck)
	require.Error(t, err)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrReadFailure, code)
}

func TestPumpUntilDiscardsShortPayload(t *testing.T) {
	fd := newFakeDriver()
	// A packet with fewer than 4 bytes can't carry a signal-type word and
	// must be silently discarded rather than misread.
	stuffed, err := cobsEncode([]byte{0x01})
	require.NoError(t, err)
	fd.signalBuf = append(fd.signalBuf, stuffed...)
	fd.pushSignal(SigDeviceTableAck, []byte{0x04, 0x00, 0x00, 0x00})

	typ, payload, err := pumpUntil(context.Background(), fd, SigDeviceTableAck)
	require.NoError(t, err)
	assert.Equal(t, SigDeviceTableAck, typ)
	assert.Equal(t, uint32(4), decodeU32(payload))
}
