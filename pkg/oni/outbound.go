package oni

import "context"

// outboundHeaderSize is the packed little-endian outbound frame header:
// u32 dev_idx, u32 data_sz_in_words.
const outboundHeaderSize = 4 + 4

// OutboundFrame is a pending write built by CreateFrame and sent with
// WriteFrame. Like Frame, it carries a strong reference to the write
// buffer its header and payload were allocated from.
type OutboundFrame struct {
	devIndex DeviceIndex
	totalLen int
	pos      int
	buf      *sharedBuffer
}

// CreateFrame allocates header and payload space for a write frame
// targeting devIdx, copying data in immediately. len(data) must be a
// positive multiple of the device's write_size.
func (c *Context) CreateFrame(devIdx DeviceIndex, data []byte) (*OutboundFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dev, ok := c.table.lookup(devIdx)
	if !ok {
		return nil, newErr("Context.CreateFrame", ErrBadDeviceIndex, nil)
	}
	if !dev.Writable() {
		return nil, newErr("Context.CreateFrame", ErrNotWritable, nil)
	}
	if len(data) == 0 || uint32(len(data))%dev.WriteSize != 0 {
		return nil, newErr("Context.CreateFrame", ErrBadWriteSize, nil)
	}

	rounded := int(roundUpWord(uint32(len(data))))
	total := outboundHeaderSize + rounded
	if total > int(c.blockWriteSize) {
		return nil, newErr("Context.CreateFrame", ErrBadAlloc, nil)
	}

	if c.outBuf == nil || c.outBuf.writeRemaining() < total {
		if c.outBuf != nil {
			c.outBuf.dropRef()
		}
		c.outBuf = newSharedBuffer(int(c.blockWriteSize))
	}

	buf := c.outBuf
	pos := buf.writePos
	putU32(buf.data[pos:pos+4], uint32(devIdx))
	putU32(buf.data[pos+4:pos+8], uint32(rounded)/transportWordSize)
	copy(buf.data[pos+outboundHeaderSize:pos+outboundHeaderSize+len(data)], data)
	buf.writePos = pos + total

	return &OutboundFrame{
		devIndex: devIdx,
		totalLen: total,
		pos:      pos,
		buf:      buf.cloneRef(),
	}, nil
}

// WriteFrame emits the frame's header and payload to the transport's Data
// stream in one logical write, looping over partial writes until the
// transport either finishes or reports an unrecoverable error.
func (c *Context) WriteFrame(ctx context.Context, f *OutboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUninitialized {
		return newErr("Context.WriteFrame", ErrInvalidState, nil)
	}

	payload := f.buf.data[f.pos : f.pos+f.totalLen]
	sent := 0
	for sent < len(payload) {
		n, err := c.driver.WriteStream(ctx, StreamWriteData, payload[sent:])
		if err != nil {
			return newErr("Context.WriteFrame", ErrWriteFailure, err)
		}
		if n <= 0 {
			return newErr("Context.WriteFrame", ErrWriteFailure, nil)
		}
		sent += n
	}
	return nil
}

// Destroy releases the frame's reference to its backing write buffer.
func (f *OutboundFrame) Destroy() {
	if f.buf != nil {
		f.buf.dropRef()
		f.buf = nil
	}
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
