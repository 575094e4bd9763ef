// Package pcie implements oni.Driver over a PCIe character device. Config
// register access goes through a private ioctl pair; the Data and Signal
// streams go through plain file reads/writes against separate device
// nodes, each guarded by a read/write deadline.
package pcie

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"oni/pkg/oni"
)

// IOCTL command encoding, following the standard Linux <asm/ioctl.h>
// layout.
const (
	iocNone  = 0x0
	iocWrite = 0x1
	iocRead  = 0x2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (size << iocSizeShift) | (typ << iocTypeShift) | (nr << iocNRShift)
}

func ior(typ, nr, size uintptr) uintptr { return ioc(iocRead, typ, nr, size) }
func iow(typ, nr, size uintptr) uintptr { return ioc(iocWrite, typ, nr, size) }

// oniMagic is this driver's private ioctl type byte.
const oniMagic = 0x4F // 'O'

// Config register ioctls: read/write a {reg uint32; value uint32} pair.
var (
	ioctlReadConfig  = ior(oniMagic, 1, 8)
	ioctlWriteConfig = iow(oniMagic, 2, 8)
)

type configXfer struct {
	Reg   uint32
	Value uint32
}

// Config selects the PCIe device node and I/O timeouts.
type Config struct {
	DataPath   string
	SignalPath string
	Timeout    time.Duration
}

// DefaultConfig points at the conventional device node names a udev rule
// would create for an ONI-compatible PCIe endpoint.
func DefaultConfig() Config {
	return Config{
		DataPath:   "/dev/oni0-data",
		SignalPath: "/dev/oni0-signal",
		Timeout:    2 * time.Second,
	}
}

// Driver is a PCIe character-device oni.Driver backend.
type Driver struct {
	cfg Config

	mu         sync.Mutex
	dataFile   *os.File
	signalFile *os.File
}

// New constructs an unopened PCIe driver; call Init to open the device
// nodes.
func New(cfg Config) *Driver { return &Driver{cfg: cfg} }

func (d *Driver) Init(ctx context.Context, hostIdx int) error {
	dataFile, err := os.OpenFile(d.cfg.DataPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("pcie: open data device: %w", err)
	}
	signalFile, err := os.OpenFile(d.cfg.SignalPath, os.O_RDWR, 0)
	if err != nil {
		dataFile.Close()
		return fmt.Errorf("pcie: open signal device: %w", err)
	}
	d.dataFile, d.signalFile = dataFile, signalFile
	return nil
}

func (d *Driver) Close() error {
	var firstErr error
	if d.signalFile != nil {
		if err := d.signalFile.Close(); err != nil {
			firstErr = err
		}
	}
	if d.dataFile != nil {
		if err := d.dataFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Driver) ReadStream(ctx context.Context, stream oni.ReadStream, buf []byte) (int, error) {
	f, err := d.fileFor(stream)
	if err != nil {
		return 0, err
	}

	deadline := time.Now().Add(d.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := f.SetReadDeadline(deadline); err != nil {
		// Some char devices don't support deadlines; proceed without one.
	}

	n, err := f.Read(buf)
	if err != nil {
		return n, fmt.Errorf("pcie: read: %w", err)
	}
	return n, nil
}

func (d *Driver) WriteStream(ctx context.Context, stream oni.WriteStream, buf []byte) (int, error) {
	if stream != oni.StreamWriteData {
		return 0, fmt.Errorf("pcie: invalid stream path")
	}

	deadline := time.Now().Add(d.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := d.dataFile.SetWriteDeadline(deadline); err != nil {
		// ignore, as above
	}

	n, err := d.dataFile.Write(buf)
	if err != nil {
		return n, fmt.Errorf("pcie: write: %w", err)
	}
	return n, nil
}

func (d *Driver) fileFor(stream oni.ReadStream) (*os.File, error) {
	switch stream {
	case oni.StreamData:
		return d.dataFile, nil
	case oni.StreamSignal:
		return d.signalFile, nil
	default:
		return nil, fmt.Errorf("pcie: invalid stream path")
	}
}

func (d *Driver) ReadConfig(reg oni.ConfigReg) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	xfer := configXfer{Reg: uint32(reg)}
	if err := d.ioctl(ioctlReadConfig, unsafe.Pointer(&xfer)); err != nil {
		return 0, fmt.Errorf("pcie: read config register %d: %w", reg, err)
	}
	return xfer.Value, nil
}

func (d *Driver) WriteConfig(reg oni.ConfigReg, value uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	xfer := configXfer{Reg: uint32(reg), Value: value}
	if err := d.ioctl(ioctlWriteConfig, unsafe.Pointer(&xfer)); err != nil {
		return fmt.Errorf("pcie: write config register %d: %w", reg, err)
	}
	return nil
}

func (d *Driver) ioctl(cmd uintptr, data unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.dataFile.Fd(), cmd, uintptr(data))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *Driver) SetOptCallback(option int, value []byte) error {
	// The kernel driver owns the DMA ring sizing; block-size changes are
	// not pushed down here.
	return nil
}

func (d *Driver) SetOpt(option int, value []byte) error {
	return fmt.Errorf("pcie: no custom options")
}

func (d *Driver) GetOpt(option int, length int) ([]byte, error) {
	return nil, fmt.Errorf("pcie: no custom options")
}

func (d *Driver) Info() oni.DriverInfo {
	return oni.DriverInfo{Name: "pcie", Major: 1, Minor: 0, Patch: 0}
}
