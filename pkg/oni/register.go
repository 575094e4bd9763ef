package oni

import "context"

// writeReg performs the latch-then-trigger write handshake on the
// configuration interface: detect an in-flight transaction via TRIG, latch
// DEV_IDX/REG_ADDR/REG_VALUE/RW=1, fire TRIG, then pump for the ack.
func (c *Context) writeReg(ctx context.Context, devIdx DeviceIndex, addr, value uint32) error {
	trig, err := c.driver.ReadConfig(RegTrig)
	if err != nil {
		return newErr("Context.writeReg", ErrWriteFailure, err)
	}
	if trig != 0 {
		return newErr("Context.writeReg", ErrRetrigger, nil)
	}

	if err := c.driver.WriteConfig(RegDevIdx, uint32(devIdx)); err != nil {
		return newErr("Context.writeReg", ErrWriteFailure, err)
	}
	if err := c.driver.WriteConfig(RegRegAddr, addr); err != nil {
		return newErr("Context.writeReg", ErrWriteFailure, err)
	}
	if err := c.driver.WriteConfig(RegRegValue, value); err != nil {
		return newErr("Context.writeReg", ErrWriteFailure, err)
	}
	if err := c.driver.WriteConfig(RegRW, 1); err != nil {
		return newErr("Context.writeReg", ErrWriteFailure, err)
	}
	if err := c.driver.WriteConfig(RegTrig, 1); err != nil {
		return newErr("Context.writeReg", ErrWriteFailure, err)
	}

	typ, _, err := pumpUntil(ctx, c.driver, SigConfigWriteAck|SigConfigWriteNack)
	if err != nil {
		return newErr("Context.writeReg", ErrWriteFailure, err)
	}
	if typ == SigConfigWriteNack {
		return newErr("Context.writeReg", ErrWriteFailure, nil)
	}
	return nil
}

// readReg performs the read-side handshake: identical preamble with RW=0,
// pump for ConfigReadAck/Nack, then read REG_VALUE back on ack.
func (c *Context) readReg(ctx context.Context, devIdx DeviceIndex, addr uint32) (uint32, error) {
	trig, err := c.driver.ReadConfig(RegTrig)
	if err != nil {
		return 0, newErr("Context.readReg", ErrReadFailure, err)
	}
	if trig != 0 {
		return 0, newErr("Context.readReg", ErrRetrigger, nil)
	}

	if err := c.driver.WriteConfig(RegDevIdx, uint32(devIdx)); err != nil {
		return 0, newErr("Context.readReg", ErrReadFailure, err)
	}
	if err := c.driver.WriteConfig(RegRegAddr, addr); err != nil {
		return 0, newErr("Context.readReg", ErrReadFailure, err)
	}
	if err := c.driver.WriteConfig(RegRW, 0); err != nil {
		return 0, newErr("Context.readReg", ErrReadFailure, err)
	}
	if err := c.driver.WriteConfig(RegTrig, 1); err != nil {
		return 0, newErr("Context.readReg", ErrReadFailure, err)
	}

	typ, _, err := pumpUntil(ctx, c.driver, SigConfigReadAck|SigConfigReadNack)
	if err != nil {
		return 0, newErr("Context.readReg", ErrReadFailure, err)
	}
	if typ == SigConfigReadNack {
		return 0, newErr("Context.readReg", ErrReadFailure, nil)
	}

	value, err := c.driver.ReadConfig(RegRegValue)
	if err != nil {
		return 0, newErr("Context.readReg", ErrReadFailure, err)
	}
	return value, nil
}

// WriteReg performs a register write on the device bus (not a context
// option): the public entry point for application code that wants to
// program a device register directly.
func (c *Context) WriteReg(ctx context.Context, devIdx DeviceIndex, addr, value uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUninitialized {
		return newErr("Context.WriteReg", ErrInvalidState, nil)
	}
	return c.writeReg(ctx, devIdx, addr, value)
}

// ReadReg performs a register read on the device bus.
func (c *Context) ReadReg(ctx context.Context, devIdx DeviceIndex, addr uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUninitialized {
		return 0, newErr("Context.ReadReg", ErrInvalidState, nil)
	}
	return c.readReg(ctx, devIdx, addr)
}

// SetOption applies one of the fixed context-level options. Options
// at or beyond OptCustomBegin are passed through as direct configuration
// writes at the corresponding register address. After an option has been
// applied, the driver is informed via SetOptCallback so it can react (e.g.
// resize a DMA ring when BlockReadSize changes).
func (c *Context) SetOption(ctx context.Context, opt Option, value uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setOptionLocked(ctx, opt, value); err != nil {
		return err
	}
	if err := c.driver.SetOptCallback(int(opt), encodeU32(value)); err != nil {
		return newErr("Context.SetOption", ErrInvalidArg, err)
	}
	return nil
}

func (c *Context) setOptionLocked(ctx context.Context, opt Option, value uint32) error {
	if opt >= OptCustomBegin {
		// Custom options pass straight through to the driver's configuration
		// interface; they never run the latch/trigger device transaction.
		if c.state == StateUninitialized {
			return newErr("Context.SetOption", ErrInvalidState, nil)
		}
		reg := RegCustomBegin + ConfigReg(opt-OptCustomBegin)
		if err := c.driver.WriteConfig(reg, value); err != nil {
			return newErr("Context.SetOption", ErrWriteFailure, err)
		}
		return nil
	}

	switch opt {
	case OptRunning:
		return c.setRunningLocked(ctx, value)
	case OptReset:
		if c.state != StateIdle {
			return newErr("Context.SetOption(Reset)", ErrInvalidState, nil)
		}
		if value == 0 {
			return nil
		}
		// resetLocked itself writes RegReset before pumping the discovery
		// signals; writing it again here would queue a second device-table
		// announcement that the single discovery pass never consumes.
		return c.resetLocked(ctx)
	case OptResetAcqCounter:
		if c.state == StateUninitialized {
			return newErr("Context.SetOption(ResetAcqCounter)", ErrInvalidState, nil)
		}
		if err := c.driver.WriteConfig(RegResetAcqCounter, value); err != nil {
			return newErr("Context.SetOption(ResetAcqCounter)", ErrWriteFailure, err)
		}
		return nil
	case OptHwAddress:
		if c.state == StateUninitialized {
			return newErr("Context.SetOption(HwAddress)", ErrInvalidState, nil)
		}
		if err := c.driver.WriteConfig(RegHwAddress, value); err != nil {
			return newErr("Context.SetOption(HwAddress)", ErrWriteFailure, err)
		}
		c.hwAddress = value
		return nil
	case OptBlockReadSize:
		// Changing the block size mid-run would race a refill in flight on
		// the acquisition thread, so this is Idle-only.
		if c.state != StateIdle {
			return newErr("Context.SetOption(BlockReadSize)", ErrInvalidState, nil)
		}
		if value < c.maxReadFrameSize || value%transportWordSize != 0 {
			return newErr("Context.SetOption(BlockReadSize)", ErrInvalidReadSize, nil)
		}
		c.blockReadSize = value
		return nil
	case OptBlockWriteSize:
		if c.state != StateIdle {
			return newErr("Context.SetOption(BlockWriteSize)", ErrInvalidState, nil)
		}
		if value < c.maxWriteFrameSize || value%transportWordSize != 0 {
			return newErr("Context.SetOption(BlockWriteSize)", ErrInvalidWriteSize, nil)
		}
		c.blockWriteSize = value
		return nil
	case OptDeviceTable, OptNumDevices, OptSysClkHz, OptAcqClkHz,
		OptMaxReadFrameSize, OptMaxWriteFrameSize:
		return newErr("Context.SetOption", ErrReadOnly, nil)
	default:
		return newErr("Context.SetOption", ErrInvalidOption, nil)
	}
}

// setRunningLocked implements the Idle<->Running transitions, dropping
// both current shared buffers in either direction so the next read starts
// on a fresh frame boundary.
func (c *Context) setRunningLocked(ctx context.Context, value uint32) error {
	if value != 0 {
		if c.state != StateIdle {
			return newErr("Context.SetOption(Running)", ErrInvalidState, nil)
		}
		if err := c.driver.WriteConfig(RegRunning, 1); err != nil {
			return newErr("Context.SetOption(Running)", ErrWriteFailure, err)
		}
		c.dropBuffersLocked()
		c.state = StateRunning
		return nil
	}
	if c.state != StateRunning {
		return newErr("Context.SetOption(Running)", ErrInvalidState, nil)
	}
	if err := c.driver.WriteConfig(RegRunning, 0); err != nil {
		return newErr("Context.SetOption(Running)", ErrWriteFailure, err)
	}
	c.dropBuffersLocked()
	c.state = StateIdle
	return nil
}

func (c *Context) dropBuffersLocked() {
	if c.inBuf != nil {
		c.inBuf.dropRef()
		c.inBuf = nil
	}
	if c.outBuf != nil {
		c.outBuf.dropRef()
		c.outBuf = nil
	}
}

// GetOption reads one of the fixed context-level options. Every option
// requires an initialized context; the descriptor array itself is returned
// by DeviceTable, not here.
func (c *Context) GetOption(ctx context.Context, opt Option) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUninitialized {
		return 0, newErr("Context.GetOption", ErrInvalidState, nil)
	}

	if opt >= OptCustomBegin {
		reg := RegCustomBegin + ConfigReg(opt-OptCustomBegin)
		v, err := c.driver.ReadConfig(reg)
		if err != nil {
			return 0, newErr("Context.GetOption", ErrReadFailure, err)
		}
		return v, nil
	}

	switch opt {
	case OptDeviceTable:
		// The descriptor array does not fit a scalar; callers use
		// Context.DeviceTable for this option's data.
		return 0, newErr("Context.GetOption(DeviceTable)", ErrBufferTooSmall, nil)
	case OptNumDevices:
		return uint32(c.table.count()), nil
	case OptRunning:
		return c.getConfigLocked("Context.GetOption(Running)", RegRunning)
	case OptSysClkHz:
		return c.getConfigLocked("Context.GetOption(SysClkHz)", RegSysClkHz)
	case OptAcqClkHz:
		return c.getConfigLocked("Context.GetOption(AcqClkHz)", RegAcqClkHz)
	case OptHwAddress:
		return c.getConfigLocked("Context.GetOption(HwAddress)", RegHwAddress)
	case OptMaxReadFrameSize:
		return c.maxReadFrameSize, nil
	case OptMaxWriteFrameSize:
		return c.maxWriteFrameSize, nil
	case OptBlockReadSize:
		return c.blockReadSize, nil
	case OptBlockWriteSize:
		return c.blockWriteSize, nil
	case OptReset, OptResetAcqCounter:
		return 0, newErr("Context.GetOption", ErrWriteOnly, nil)
	default:
		return 0, newErr("Context.GetOption", ErrInvalidOption, nil)
	}
}

func (c *Context) getConfigLocked(op string, reg ConfigReg) (uint32, error) {
	v, err := c.driver.ReadConfig(reg)
	if err != nil {
		return 0, newErr(op, ErrReadFailure, err)
	}
	return v, nil
}

// DeviceTable returns a copy of the discovered device descriptors.
func (c *Context) DeviceTable() ([]Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUninitialized {
		return nil, newErr("Context.DeviceTable", ErrInvalidState, nil)
	}
	out := make([]Device, len(c.table.devices))
	copy(out, c.table.devices)
	return out, nil
}
