// Package emulator is a software-only oni.Driver matching the behavior of
// liboni's test driver: four fixed devices on separate hubs, register
// echo/NACK on an undefined address, and a signal queue carrying
// COBS-stuffed device-table and register-ack packets. It exists to
// exercise the full host pipeline without any real transport.
//
// Known limitations, carried over from liboni's test driver:
//  1. Running does nothing extra: data generation happens synchronously
//     inside ReadStream rather than on a separate producer thread.
//  2. All four devices share one read/write size.
//  3. Writes are accepted and discarded.
//
// Unlike liboni's test driver, the block read size is not required to be
// a multiple of the frame size: a frame that straddles a block boundary is
// carried over into the next ReadStream call, which is exactly the case
// the host's tail-copying refill exists to handle.
package emulator

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"

	"oni/pkg/oni"
)

const numDevices = 4
const testDeviceID = 10 // ONI_TEST0
const testDeviceVersion = 1
const testReadSize = 32
const testWriteSize = 32
const defaultBlockReadSize = 1024
const signalQueueCapacity = 4096

// signal type bitmask values, matching pkg/oni's SignalType encoding.
const (
	sigNull            uint32 = 1 << 0
	sigConfigWriteAck  uint32 = 1 << 1
	sigConfigWriteNack uint32 = 1 << 2
	sigConfigReadAck   uint32 = 1 << 3
	sigConfigReadNack  uint32 = 1 << 4
	sigDeviceTableAck  uint32 = 1 << 5
	sigDeviceInstance  uint32 = 1 << 6
)

type testDevice struct {
	idx       uint32
	id        uint32
	version   uint32
	readSize  uint32
	writeSize uint32
	regVal    uint32
	dataCount uint16
}

type confReg struct {
	devIdx    uint32
	regAddr   uint32
	regValue  uint32
	rw        uint32
	running   uint32
	sysClkHz  uint32
	acqClkHz  uint32
	hwAddress uint32
}

// Driver is the in-process emulator. Zero value is not usable; construct
// with New.
type Driver struct {
	mu sync.Mutex

	blockReadSize uint32
	frameNum      uint64
	devTable      [numDevices]testDevice
	conf          confReg
	queue         *byteRing

	// pending holds the tail of a generated frame that did not fit the last
	// ReadStream call's buffer; it is drained first on the next call so the
	// data stream stays a gapless sequence of frames.
	pending []byte
}

// New constructs an emulator driver with its fixed four-device table.
func New() *Driver {
	d := &Driver{
		blockReadSize: defaultBlockReadSize,
		queue:         newByteRing(signalQueueCapacity),
	}
	for i := range d.devTable {
		d.devTable[i] = testDevice{
			idx:       uint32(i) << 8,
			id:        testDeviceID,
			version:   testDeviceVersion,
			readSize:  testReadSize,
			writeSize: testWriteSize,
			regVal:    42,
		}
	}
	d.conf = confReg{
		running:  1,
		sysClkHz: 200_000_000,
		acqClkHz: 200_000_000,
	}
	return d
}

// NewDriver satisfies the symbol internal/driverload expects from a
// compiled plugin; useful for tooling that wants to treat the emulator
// uniformly with a dynamically loaded driver.
func NewDriver() (oni.Driver, error) { return New(), nil }

func (d *Driver) Init(ctx context.Context, hostIdx int) error { return nil }

func (d *Driver) Close() error { return nil }

func (d *Driver) ReadStream(ctx context.Context, stream oni.ReadStream, buf []byte) (int, error) {
	switch stream {
	case oni.StreamData:
		d.mu.Lock()
		defer d.mu.Unlock()
		d.fillReadBuffer(buf)
		return len(buf), nil
	case oni.StreamSignal:
		for i := range buf {
			d.mu.Lock()
			b, err := d.queue.dequeue()
			d.mu.Unlock()
			if err != nil {
				return i, fmt.Errorf("emulator: signal queue empty: %w", err)
			}
			buf[i] = b
		}
		return len(buf), nil
	default:
		return 0, fmt.Errorf("emulator: invalid stream path")
	}
}

func (d *Driver) WriteStream(ctx context.Context, stream oni.WriteStream, buf []byte) (int, error) {
	if stream != oni.StreamWriteData {
		return 0, fmt.Errorf("emulator: invalid stream path")
	}
	// Data is accepted and discarded; there is no real sink.
	return len(buf), nil
}

func (d *Driver) ReadConfig(reg oni.ConfigReg) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch reg {
	case oni.RegDevIdx:
		return d.conf.devIdx, nil
	case oni.RegRegAddr:
		return d.conf.regAddr, nil
	case oni.RegRegValue:
		return d.conf.regValue, nil
	case oni.RegRW:
		return d.conf.rw, nil
	case oni.RegTrig:
		// The trigger executes synchronously inside WriteConfig, so there
		// is never an in-flight transaction to observe.
		return 0, nil
	case oni.RegRunning:
		return d.conf.running, nil
	case oni.RegReset:
		return 0, fmt.Errorf("emulator: Reset is write-only")
	case oni.RegSysClkHz:
		return d.conf.sysClkHz, nil
	case oni.RegAcqClkHz:
		return d.conf.acqClkHz, nil
	case oni.RegResetAcqCounter:
		return 0, fmt.Errorf("emulator: ResetAcqCounter is write-only")
	case oni.RegHwAddress:
		return d.conf.hwAddress, nil
	default:
		return 0, fmt.Errorf("emulator: invalid config register %d", reg)
	}
}

func (d *Driver) WriteConfig(reg oni.ConfigReg, value uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch reg {
	case oni.RegDevIdx:
		d.conf.devIdx = value
	case oni.RegRegAddr:
		d.conf.regAddr = value
	case oni.RegRegValue:
		d.conf.regValue = value
	case oni.RegRW:
		d.conf.rw = value
	case oni.RegTrig:
		return d.trigger(value)
	case oni.RegRunning:
		d.conf.running = value
	case oni.RegReset:
		if value == 0 {
			return nil
		}
		return d.sendDeviceTable()
	case oni.RegSysClkHz, oni.RegAcqClkHz:
		return fmt.Errorf("emulator: register %d is read-only", reg)
	case oni.RegResetAcqCounter:
		if value != 0 {
			d.frameNum = 0
		}
	case oni.RegHwAddress:
		d.conf.hwAddress = value
	default:
		return fmt.Errorf("emulator: invalid config register %d", reg)
	}
	return nil
}

// trigger implements the latched read/write handshake: find the addressed
// device, then either echo its register (address 0) or NACK an undefined
// address.
func (d *Driver) trigger(value uint32) error {
	if value == 0 {
		return nil
	}
	i := d.findDevice(d.conf.devIdx)
	if i < 0 {
		return fmt.Errorf("emulator: unknown device index %#x", d.conf.devIdx)
	}

	if d.conf.rw == 0 { // read
		if d.conf.regAddr == 0 {
			d.conf.regValue = d.devTable[i].regVal
			return d.sendMsgSignal(sigConfigReadAck)
		}
		return d.sendMsgSignal(sigConfigReadNack)
	}
	// write
	if d.conf.regAddr == 0 {
		d.devTable[i].regVal = d.conf.regValue
		return d.sendMsgSignal(sigConfigWriteAck)
	}
	return d.sendMsgSignal(sigConfigWriteNack)
}

func (d *Driver) findDevice(idx uint32) int {
	for i := range d.devTable {
		if d.devTable[i].idx == idx {
			return i
		}
	}
	return -1
}

func (d *Driver) SetOptCallback(option int, value []byte) error {
	if option == int(oni.OptBlockReadSize) && len(value) >= 4 {
		v := binary.LittleEndian.Uint32(value)
		d.mu.Lock()
		defer d.mu.Unlock()
		d.blockReadSize = v
	}
	return nil
}

func (d *Driver) SetOpt(option int, value []byte) error {
	return fmt.Errorf("emulator: no custom options")
}

func (d *Driver) GetOpt(option int, length int) ([]byte, error) {
	return nil, fmt.Errorf("emulator: no custom options")
}

func (d *Driver) Info() oni.DriverInfo {
	return oni.DriverInfo{Name: "test", Major: 1, Minor: 0, Patch: 0}
}

// frameHeaderWireSize mirrors pkg/oni's frame header size without
// importing its unexported constant.
const frameHeaderWireSize = 16

// sendDeviceTable pushes a DeviceTableAck announcing numDevices followed
// by one DeviceInstance packet per device, as a reset write demands.
func (d *Driver) sendDeviceTable() error {
	countPayload := make([]byte, 4)
	binary.LittleEndian.PutUint32(countPayload, numDevices)
	if err := d.sendDataSignal(sigDeviceTableAck, countPayload); err != nil {
		return err
	}
	for i := range d.devTable {
		dev := d.devTable[i]
		payload := make([]byte, 20)
		binary.LittleEndian.PutUint32(payload[0:4], dev.idx)
		binary.LittleEndian.PutUint32(payload[4:8], dev.id)
		binary.LittleEndian.PutUint32(payload[8:12], dev.version)
		binary.LittleEndian.PutUint32(payload[12:16], dev.readSize)
		binary.LittleEndian.PutUint32(payload[16:20], dev.writeSize)
		if err := d.sendDataSignal(sigDeviceInstance, payload); err != nil {
			return err
		}
	}
	return nil
}

// fillReadBuffer fills data completely with synthetic frame bytes, first
// draining any partial frame left over from the previous call, then
// generating fresh frames until the buffer is full. The stream of bytes
// across successive calls is a gapless concatenation of frames even when
// the block size is not a frame-size multiple.
func (d *Driver) fillReadBuffer(data []byte) {
	pos := 0
	for pos < len(data) {
		if len(d.pending) == 0 {
			d.pending = d.nextFrame()
		}
		n := copy(data[pos:], d.pending)
		d.pending = d.pending[n:]
		pos += n
	}
}

// nextFrame generates one complete synthetic frame: pick a random device,
// emit its header plus an incrementing uint16 counter as payload.
func (d *Driver) nextFrame() []byte {
	dev := &d.devTable[rand.Intn(numDevices)]
	frame := make([]byte, frameHeaderWireSize+int(dev.readSize))

	binary.LittleEndian.PutUint64(frame[0:8], d.frameNum)
	d.frameNum++
	binary.LittleEndian.PutUint32(frame[8:12], dev.idx)
	binary.LittleEndian.PutUint32(frame[12:16], dev.readSize)

	for j := frameHeaderWireSize; j+2 <= len(frame); j += 2 {
		binary.LittleEndian.PutUint16(frame[j:j+2], dev.dataCount)
		dev.dataCount++
	}
	return frame
}

func (d *Driver) sendMsgSignal(sigType uint32) error {
	return d.sendDataSignal(sigType, nil)
}

func (d *Driver) sendDataSignal(sigType uint32, payload []byte) error {
	src := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(src[:4], sigType)
	copy(src[4:], payload)

	stuffed, err := oni.EncodeCOBS(src)
	if err != nil {
		return err
	}
	for _, b := range stuffed {
		if err := d.queue.enqueue(b); err != nil {
			return fmt.Errorf("emulator: signal queue full: %w", err)
		}
	}
	return nil
}
