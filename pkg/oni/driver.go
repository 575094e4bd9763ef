package oni

import "context"

// ReadStream selects which of a driver's two inbound channels a ReadStream
// call targets.
type ReadStream int

const (
	StreamData ReadStream = iota
	StreamSignal
)

// WriteStream selects a driver's outbound channel. Only the Data stream is
// writable; Signal is host-to-application only.
type WriteStream int

const (
	StreamWriteData WriteStream = iota
)

// ConfigReg addresses the fixed configuration-register set every driver
// must expose: the latch quadruple, the run/reset controls, the two
// clock-rate read-onlys, the acquisition-counter reset, and the host
// address register. CustomBegin is where a driver's own pass-through
// registers begin.
type ConfigReg int

const (
	RegDevIdx ConfigReg = iota
	RegRegAddr
	RegRegValue
	RegRW
	RegTrig
	RegRunning
	RegReset
	RegSysClkHz
	RegAcqClkHz
	RegResetAcqCounter
	RegHwAddress
	RegCustomBegin
)

// DriverInfo is the version quadruple a driver reports via Info(),
// mirroring liboni's oni_driver_info_t.
type DriverInfo struct {
	Name       string
	Major      int
	Minor      int
	Patch      int
	PreRelease string
}

// Driver is the uniform operation set a transport backend must implement,
// resolved dynamically at context creation. Implementations live
// outside this package: internal/transport/emulator, internal/transport/usb3,
// internal/transport/pcie, or anything loaded via internal/driverload.
//
// Drivers must be reentrant only under the constraint that the core never
// issues more than one concurrent call per stream direction; they do
// not need their own internal locking for Data/Signal access, though a
// driver that shares one physical control channel between register access
// and signal read-out must serialize that internally.
type Driver interface {
	// Init opens the underlying transport. hostIdx < 0 selects the
	// driver's default device.
	Init(ctx context.Context, hostIdx int) error

	// Close releases the transport. After Close, no other method may be
	// called.
	Close() error

	// ReadStream reads up to len(buf) bytes from the given stream,
	// returning the number of bytes read.
	ReadStream(ctx context.Context, stream ReadStream, buf []byte) (int, error)

	// WriteStream writes buf to the given stream, returning the number of
	// bytes written.
	WriteStream(ctx context.Context, stream WriteStream, buf []byte) (int, error)

	// ReadConfig reads one configuration register.
	ReadConfig(reg ConfigReg) (uint32, error)

	// WriteConfig writes one configuration register.
	WriteConfig(reg ConfigReg, value uint32) error

	// SetOptCallback is invoked after the core applies a context-level
	// option, letting the driver react — e.g. resizing a DMA ring when
	// BlockReadSize changes.
	SetOptCallback(option int, value []byte) error

	// SetOpt/GetOpt carry driver-specific options the core does not
	// interpret.
	SetOpt(option int, value []byte) error
	GetOpt(option int, len int) ([]byte, error)

	// Info reports the driver's own identity and version, independent of
	// any device's firmware version.
	Info() DriverInfo
}
