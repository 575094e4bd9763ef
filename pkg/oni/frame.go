package oni

import "context"

// frameHeaderSize is the packed little-endian inbound frame header: u64
// timestamp, u32 dev_idx, u32 data_sz.
const frameHeaderSize = 8 + 4 + 4

// Frame is one inbound, timestamped, device-tagged byte window handed back
// by ReadFrame. Its Data slice aliases the context's current shared read
// buffer; the frame holds a strong reference to that buffer so the window
// stays valid across however many refills happen before the caller calls
// Destroy.
type Frame struct {
	Timestamp uint64
	DevIndex  DeviceIndex
	DataSize  uint32
	Data      []byte

	buf *sharedBuffer
}

// Destroy releases the frame's reference to its backing buffer. Once every
// frame referencing a buffer (and the context itself, if it has since
// refilled past it) has called Destroy or refilled away, the buffer becomes
// eligible for collection.
func (f *Frame) Destroy() {
	if f.buf != nil {
		f.buf.dropRef()
		f.buf = nil
	}
}

// ensureReadHeadroom refills the inbound buffer at most once: if fewer than
// maxReadFrameSize bytes remain unread, it allocates a fresh buffer sized
// to the unread tail plus one block, copies the tail forward, drops the
// context's own reference to the old buffer (outstanding frames keep it
// alive via their own references), and reads exactly blockReadSize bytes
// from the transport into the new buffer.
//
// Caller holds c.mu. The transport read below can block for as long as it
// takes the driver to deliver a full block, so mu is released for its
// duration; register/option calls on the control thread run against a
// consistent snapshot taken before the release and never wait behind it.
func (c *Context) ensureReadHeadroom(ctx context.Context) error {
	var unread int
	if c.inBuf != nil {
		unread = c.inBuf.endPos - c.inBuf.readPos
	}
	if c.inBuf != nil && unread >= int(c.maxReadFrameSize) {
		return nil
	}

	newBuf := newSharedBuffer(unread + int(c.blockReadSize))
	if c.inBuf != nil {
		copy(newBuf.data[:unread], c.inBuf.data[c.inBuf.readPos:c.inBuf.endPos])
		c.inBuf.dropRef()
		c.inBuf = nil
	}
	newBuf.endPos = unread

	driver := c.driver
	blockReadSize := int(c.blockReadSize)
	dst := newBuf.data[unread : unread+blockReadSize]

	c.mu.Unlock()
	n, err := driver.ReadStream(ctx, StreamData, dst)
	c.mu.Lock()

	if err != nil || n != blockReadSize {
		newBuf.dropRef()
		return newErr("Context.ReadFrame", ErrReadFailure, err)
	}
	// A run-state transition during the unlocked read is advisory: the
	// in-flight read commits and completes, and the stop (its buffer drop
	// included) is observed on the caller's next ReadFrame.
	newBuf.endPos += n
	c.inBuf = newBuf
	return nil
}

// ReadFrame blocks until one inbound frame is available and returns a
// handle referencing it. At most one refill happens per call; the
// header parsed in step 2 is never invalidated by a second refill within
// the same call.
func (c *Context) ReadFrame(ctx context.Context) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return nil, newErr("Context.ReadFrame", ErrInvalidState, nil)
	}

	if err := c.ensureReadHeadroom(ctx); err != nil {
		return nil, err
	}

	buf := c.inBuf
	pos := buf.readPos
	timestamp := decodeU64(buf.data[pos : pos+8])
	devIdx := decodeU32(buf.data[pos+8 : pos+12])
	dataSz := decodeU32(buf.data[pos+12 : pos+16])
	pos += frameHeaderSize

	// NB: the bound is header-inclusive, so it is looser than a strict
	// payload-only check; it matches what the hardware's own validity
	// check enforces.
	if dataSz == 0 || dataSz > c.maxReadFrameSize {
		return nil, newErr("Context.ReadFrame", ErrBadFrame, nil)
	}

	rounded := int(roundUpWord(dataSz))
	if pos+rounded > buf.endPos {
		return nil, newErr("Context.ReadFrame", ErrBadFrame, nil)
	}
	payload := buf.data[pos : pos+rounded]
	pos += rounded
	buf.readPos = pos

	frame := &Frame{
		Timestamp: timestamp,
		DevIndex:  DeviceIndex(devIdx),
		DataSize:  dataSz,
		Data:      payload[:dataSz:dataSz],
		buf:       buf.cloneRef(),
	}
	return frame, nil
}

func decodeU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
