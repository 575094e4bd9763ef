package oni

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWritableTestContext(fd *fakeDriver, blockWriteSize uint32) *Context {
	table, _ := newDeviceTable([]Device{
		{Index: 0x000, ID: 10, Version: 1, ReadSize: 32, WriteSize: 16},
	})
	return &Context{
		driver:            fd,
		table:             table,
		state:             StateRunning,
		maxWriteFrameSize: blockWriteSize,
		blockWriteSize:    blockWriteSize,
	}
}

func TestCreateFrameRejectsUnknownDevice(t *testing.T) {
	fd := newFakeDriver()
	c := newWritableTestContext(fd, 4096)

	_, err := c.CreateFrame(0xDEAD, make([]byte, 16))
	require.Error(t, err)
	code, _ := CodeOf(err)
	assert.Equal(t, ErrBadDeviceIndex, code)
}

func TestCreateFrameRejectsNotWritable(t *testing.T) {
	table, _ := newDeviceTable([]Device{{Index: 0x000, ReadSize: 32, WriteSize: 0}})
	fd := newFakeDriver()
	c := &Context{driver: fd, table: table, state: StateRunning, blockWriteSize: 4096}

	_, err := c.CreateFrame(0x000, make([]byte, 16))
	require.Error(t, err)
	code, _ := CodeOf(err)
	assert.Equal(t, ErrNotWritable, code)
}

func TestCreateFrameRejectsBadWriteSize(t *testing.T) {
	fd := newFakeDriver()
	c := newWritableTestContext(fd, 4096)

	_, err := c.CreateFrame(0x000, make([]byte, 17)) // not a multiple of write_size=16
	require.Error(t, err)
	code, _ := CodeOf(err)
	assert.Equal(t, ErrBadWriteSize, code)
}

func TestCreateFrameRejectsOverAlloc(t *testing.T) {
	fd := newFakeDriver()
	c := newWritableTestContext(fd, 32) // smaller than header+payload

	_, err := c.CreateFrame(0x000, make([]byte, 32))
	require.Error(t, err)
	code, _ := CodeOf(err)
	assert.Equal(t, ErrBadAlloc, code)
}

func TestCreateFrameHeaderAndPayload(t *testing.T) {
	fd := newFakeDriver()
	c := newWritableTestContext(fd, 4096)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	f, err := c.CreateFrame(0x000, data)
	require.NoError(t, err)
	assert.Equal(t, DeviceIndex(0x000), f.devIndex)
	assert.Equal(t, outboundHeaderSize+len(data), f.totalLen)

	header := f.buf.data[f.pos : f.pos+outboundHeaderSize]
	assert.Equal(t, uint32(0x000), decodeU32(header[0:4]))
	assert.Equal(t, uint32(len(data))/transportWordSize, decodeU32(header[4:8]))
	assert.Equal(t, data, f.buf.data[f.pos+outboundHeaderSize:f.pos+f.totalLen])
	f.Destroy()
}

// TestWriteFrameLoopsOverPartialWrites: a transport that accepts fewer
// bytes than offered must be called again until the frame is fully sent.
func TestWriteFrameLoopsOverPartialWrites(t *testing.T) {
	fd := newFakeDriver()
	fd.writeChunk = 3
	c := newWritableTestContext(fd, 4096)
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}

	f, err := c.CreateFrame(0x000, data)
	require.NoError(t, err)

	require.NoError(t, c.WriteFrame(context.Background(), f))
	assert.Equal(t, outboundHeaderSize+len(data), len(fd.writtenBytes()))
	assert.Greater(t, len(fd.writeChunks), 1, "a 3-byte chunk limit must force more than one WriteStream call")
	f.Destroy()
}

func TestWriteFrameRejectsUninitialized(t *testing.T) {
	fd := newFakeDriver()
	c := newWritableTestContext(fd, 4096)
	c.state = StateUninitialized

	err := c.WriteFrame(context.Background(), &OutboundFrame{buf: newSharedBuffer(8)})
	require.Error(t, err)
	code, _ := CodeOf(err)
	assert.Equal(t, ErrInvalidState, code)
}

func TestCreateFrameAllocatesFreshBufferWhenExhausted(t *testing.T) {
	fd := newFakeDriver()
	c := newWritableTestContext(fd, outboundHeaderSize+16) // room for exactly one frame

	data := make([]byte, 16)
	f1, err := c.CreateFrame(0x000, data)
	require.NoError(t, err)
	firstBuf := c.outBuf

	f2, err := c.CreateFrame(0x000, data)
	require.NoError(t, err)
	require.NotSame(t, firstBuf, c.outBuf, "second allocation must roll over into a fresh write buffer")

	f1.Destroy()
	f2.Destroy()
}
