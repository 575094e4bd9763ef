package oni

import (
	"context"
	"sync"
)

// RunState is the context's lifecycle state.
type RunState int

const (
	StateUninitialized RunState = iota
	StateIdle
	StateRunning
)

func (s RunState) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// transportWordSize is the word granularity frame payloads and block sizes
// must be a multiple of.
const transportWordSize = 4

const defaultMinBlockWriteSize = 4096

// Option identifies one entry in the context's fixed option surface.
type Option int

const (
	OptDeviceTable Option = iota
	OptNumDevices
	OptRunning
	OptReset
	OptSysClkHz
	OptAcqClkHz
	OptResetAcqCounter
	OptHwAddress
	OptMaxReadFrameSize
	OptMaxWriteFrameSize
	OptBlockReadSize
	OptBlockWriteSize
	OptCustomBegin
)

// Context is the sole root of lifetime for one ONI session: it owns the
// loaded driver, the discovered device table, the current read/write
// shared buffers, and the run-state machine. There is no package-level
// state; every operation hangs off a *Context.
type Context struct {
	// mu serializes register/option calls on the control thread against each
	// other and against ReadFrame's own buffer bookkeeping. ReadFrame takes
	// it too, but ensureReadHeadroom releases it for the duration of the
	// blocking transport read, so a register/option round trip on the
	// control thread never waits behind a full block_read_size wait on the
	// acquisition thread.
	mu sync.Mutex

	driver Driver
	table  *deviceTable
	state  RunState

	maxReadFrameSize  uint32
	maxWriteFrameSize uint32
	blockReadSize     uint32
	blockWriteSize    uint32

	hwAddress uint32

	inBuf  *sharedBuffer
	outBuf *sharedBuffer
}

// New constructs a Context bound to an already-resolved Driver. Context
// creation itself never touches the transport; Init does.
func New(drv Driver) *Context {
	return &Context{
		driver: drv,
		table:  &deviceTable{},
		state:  StateUninitialized,
	}
}

// Init opens the driver and runs the discovery routine, transitioning
// Uninitialized -> Idle.
func (c *Context) Init(ctx context.Context, hostIdx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUninitialized {
		return newErr("Context.Init", ErrInvalidState, nil)
	}
	if err := c.driver.Init(ctx, hostIdx); err != nil {
		return newErr("Context.Init", ErrInitFailure, err)
	}

	c.state = StateIdle
	return c.resetLocked(ctx)
}

// Close tears down the driver and frees the context's own resources. Valid
// from any state.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inBuf != nil {
		c.inBuf.dropRef()
		c.inBuf = nil
	}
	if c.outBuf != nil {
		c.outBuf.dropRef()
		c.outBuf = nil
	}
	if err := c.driver.Close(); err != nil {
		return newErr("Context.Close", ErrCloseFailure, err)
	}
	return nil
}

// State returns the current run state.
func (c *Context) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DriverInfo reports the loaded driver's own identity/version.
func (c *Context) DriverInfo() DriverInfo {
	return c.driver.Info()
}

// resetLocked runs the post-reset discovery routine: pump the
// device-table announcement, absorb exactly N device instances, sort and
// hash the table, derive the cached frame-size maxima, pick default block
// sizes, and inform the driver of the effective block read size. Caller
// must hold c.mu and the context must be Idle.
func (c *Context) resetLocked(ctx context.Context) error {
	if err := c.driver.WriteConfig(RegReset, 1); err != nil {
		return newErr("Context.reset", ErrWriteFailure, err)
	}

	_, payload, err := pumpUntil(ctx, c.driver, SignalType(SigDeviceTableAck))
	if err != nil {
		return newErr("Context.reset", ErrBadDeviceTable, err)
	}
	if len(payload) < 4 {
		return newErr("Context.reset", ErrBadDeviceTable, nil)
	}
	n := int(decodeU32(payload[:4]))

	devices := make([]Device, 0, n)
	var maxRead, maxWrite uint32
	for i := 0; i < n; i++ {
		// Strict, non-pumping read: discovery expects exactly N
		// DeviceInstance packets back to back, so any other signal type
		// arriving in this run is itself the failure, not something to skip
		// past.
		typ, instPayload, err := readOneSignal(ctx, c.driver)
		if err != nil {
			return newErr("Context.reset", ErrBadDeviceTable, err)
		}
		if typ != SigDeviceInstance || len(instPayload) < deviceInstanceWireSize {
			return newErr("Context.reset", ErrBadDeviceTable, nil)
		}
		d := Device{
			Index:     DeviceIndex(decodeU32(instPayload[0:4])),
			ID:        decodeU32(instPayload[4:8]),
			Version:   decodeU32(instPayload[8:12]),
			ReadSize:  decodeU32(instPayload[12:16]),
			WriteSize: decodeU32(instPayload[16:20]),
		}
		devices = append(devices, d)
		if d.ReadSize > maxRead {
			maxRead = d.ReadSize
		}
		if d.WriteSize > maxWrite {
			maxWrite = d.WriteSize
		}
	}

	table, err := newDeviceTable(devices)
	if err != nil {
		return err
	}
	c.table = table

	c.maxReadFrameSize = maxRead + frameHeaderSize
	c.maxWriteFrameSize = maxWrite + outboundHeaderSize

	c.blockReadSize = roundUpWord(c.maxReadFrameSize)
	c.blockWriteSize = roundUpWord(c.maxWriteFrameSize)
	if c.blockWriteSize < defaultMinBlockWriteSize {
		c.blockWriteSize = defaultMinBlockWriteSize
	}

	if c.inBuf != nil {
		c.inBuf.dropRef()
		c.inBuf = nil
	}
	if c.outBuf != nil {
		c.outBuf.dropRef()
		c.outBuf = nil
	}

	// Every discovery run recomputes blockReadSize, so the driver must hear
	// about it every time, not just on Init.
	if err := c.driver.SetOptCallback(int(OptBlockReadSize), encodeU32(c.blockReadSize)); err != nil {
		return newErr("Context.reset", ErrInvalidArg, err)
	}

	return nil
}

func roundUpWord(n uint32) uint32 {
	if n%transportWordSize == 0 {
		return n
	}
	return n + (transportWordSize - n%transportWordSize)
}

func encodeU32(v uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	return b
}

func decodeU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
