package oni

import (
	"context"
	"encoding/binary"
)

// fakeDriver is a minimal, hand-wired oni.Driver stand-in used to drive the
// register engine, signal parser, frame assembler, and outbound builder in
// isolation, without routing through the emulator's full device table and
// synthetic frame generator (that end-to-end path is exercised instead by
// pkg/oni's external integration tests against internal/transport/emulator).
type fakeDriver struct {
	regs           map[ConfigReg]uint32
	writeConfigCnt map[ConfigReg]int

	signalBuf []byte
	signalPos int

	dataBuf []byte
	dataPos int

	// dataBlock, when non-nil, is received from before a StreamData read
	// returns, so a test can hold a ReadStream call open to simulate a
	// slow transport while exercising a concurrent control-thread call.
	dataBlock chan struct{}

	writeChunks [][]byte
	writeChunk  int // max bytes accepted per WriteStream call; 0 = unlimited

	optCallbacks []optCallback

	readErr  error
	writeErr error
}

type optCallback struct {
	option int
	value  []byte
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		regs:           make(map[ConfigReg]uint32),
		writeConfigCnt: make(map[ConfigReg]int),
	}
}

func (d *fakeDriver) Init(ctx context.Context, hostIdx int) error { return nil }
func (d *fakeDriver) Close() error                                { return nil }

func (d *fakeDriver) ReadStream(ctx context.Context, stream ReadStream, buf []byte) (int, error) {
	switch stream {
	case StreamData:
		if d.dataBlock != nil {
			<-d.dataBlock
		}
		if d.readErr != nil {
			return 0, d.readErr
		}
		n := copy(buf, d.dataBuf[d.dataPos:])
		d.dataPos += n
		return n, nil
	case StreamSignal:
		if d.signalPos >= len(d.signalBuf) {
			return 0, newErr("fakeDriver.ReadStream", ErrReadFailure, nil)
		}
		n := copy(buf, d.signalBuf[d.signalPos:d.signalPos+len(buf)])
		d.signalPos += n
		return n, nil
	default:
		return 0, newErr("fakeDriver.ReadStream", ErrInvalidStreamPath, nil)
	}
}

func (d *fakeDriver) WriteStream(ctx context.Context, stream WriteStream, buf []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	n := len(buf)
	if d.writeChunk > 0 && n > d.writeChunk {
		n = d.writeChunk
	}
	chunk := make([]byte, n)
	copy(chunk, buf[:n])
	d.writeChunks = append(d.writeChunks, chunk)
	return n, nil
}

func (d *fakeDriver) ReadConfig(reg ConfigReg) (uint32, error) {
	return d.regs[reg], nil
}

func (d *fakeDriver) WriteConfig(reg ConfigReg, value uint32) error {
	d.regs[reg] = value
	d.writeConfigCnt[reg]++
	return nil
}

func (d *fakeDriver) SetOptCallback(option int, value []byte) error {
	d.optCallbacks = append(d.optCallbacks, optCallback{option: option, value: value})
	return nil
}
func (d *fakeDriver) SetOpt(option int, value []byte) error         { return nil }
func (d *fakeDriver) GetOpt(option int, length int) ([]byte, error) { return nil, nil }
func (d *fakeDriver) Info() DriverInfo                              { return DriverInfo{Name: "fake"} }

// writtenBytes flattens every captured WriteStream call into one slice.
func (d *fakeDriver) writtenBytes() []byte {
	var out []byte
	for _, c := range d.writeChunks {
		out = append(out, c...)
	}
	return out
}

// pushSignal appends one COBS-encoded signal packet carrying sigType and
// payload onto the driver's signal stream, to be consumed in order by
// readSignalPacket/pumpUntil.
func (d *fakeDriver) pushSignal(sigType SignalType, payload []byte) {
	body := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(body[:4], uint32(sigType))
	copy(body[4:], payload)
	stuffed, err := cobsEncode(body)
	if err != nil {
		panic(err)
	}
	d.signalBuf = append(d.signalBuf, stuffed...)
}
