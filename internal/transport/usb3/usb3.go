// Package usb3 implements oni.Driver over a USB3 bulk-transfer link using
// github.com/google/gousb. Four bulk endpoints are used: a data OUT/IN
// pair for the Data stream and a control OUT/IN pair carrying the signal
// channel and register-config bytes. Register access and signal read-out
// share the control endpoint pair, so the driver serializes that channel
// internally, as the driver contract requires.
package usb3

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"oni/pkg/oni"
)

// Config selects which USB device to open and its endpoint addresses.
type Config struct {
	VendorID  gousb.ID
	ProductID gousb.ID

	DataOutEndpoint    int
	DataInEndpoint     int
	ControlOutEndpoint int
	ControlInEndpoint  int

	Timeout time.Duration
}

// DefaultConfig returns placeholder addresses; real deployments override
// these with the values from the board's USB descriptor.
func DefaultConfig() Config {
	return Config{
		VendorID:           0x30e7,
		ProductID:          0x0001,
		DataOutEndpoint:    0x01,
		DataInEndpoint:     0x81,
		ControlOutEndpoint: 0x02,
		ControlInEndpoint:  0x82,
		Timeout:            1 * time.Second,
	}
}

// Driver is a USB3 bulk-transfer oni.Driver backend.
type Driver struct {
	cfg Config

	ctx     *gousb.Context
	device  *gousb.Device
	usbCfg  *gousb.Config
	intf    *gousb.Interface
	dataOut *gousb.OutEndpoint
	dataIn  *gousb.InEndpoint
	ctlOut  *gousb.OutEndpoint
	ctlIn   *gousb.InEndpoint

	// ctlMu serializes the shared control channel: register access and
	// signal read-out both move over it, and the driver contract leaves
	// that serialization to the driver, not the core.
	ctlMu sync.Mutex
}

// New constructs an unopened USB3 driver; call Init to open the device.
func New(cfg Config) *Driver { return &Driver{cfg: cfg} }

func (d *Driver) Init(ctx context.Context, hostIdx int) error {
	d.ctx = gousb.NewContext()

	device, err := d.ctx.OpenDeviceWithVIDPID(d.cfg.VendorID, d.cfg.ProductID)
	if err != nil {
		d.ctx.Close()
		return fmt.Errorf("usb3: open device: %w", err)
	}
	if device == nil {
		d.ctx.Close()
		return fmt.Errorf("usb3: device not found (VID:%s PID:%s)", d.cfg.VendorID, d.cfg.ProductID)
	}

	usbCfg, err := device.Config(1)
	if err != nil {
		device.Close()
		d.ctx.Close()
		return fmt.Errorf("usb3: set config: %w", err)
	}

	intf, err := usbCfg.Interface(0, 0)
	if err != nil {
		usbCfg.Close()
		device.Close()
		d.ctx.Close()
		return fmt.Errorf("usb3: claim interface: %w", err)
	}

	dataOut, err := intf.OutEndpoint(d.cfg.DataOutEndpoint)
	if err != nil {
		return d.failInit(intf, usbCfg, device, err)
	}
	dataIn, err := intf.InEndpoint(d.cfg.DataInEndpoint)
	if err != nil {
		return d.failInit(intf, usbCfg, device, err)
	}
	ctlOut, err := intf.OutEndpoint(d.cfg.ControlOutEndpoint)
	if err != nil {
		return d.failInit(intf, usbCfg, device, err)
	}
	ctlIn, err := intf.InEndpoint(d.cfg.ControlInEndpoint)
	if err != nil {
		return d.failInit(intf, usbCfg, device, err)
	}

	d.device, d.usbCfg, d.intf = device, usbCfg, intf
	d.dataOut, d.dataIn, d.ctlOut, d.ctlIn = dataOut, dataIn, ctlOut, ctlIn
	return nil
}

func (d *Driver) failInit(intf *gousb.Interface, cfg *gousb.Config, dev *gousb.Device, err error) error {
	intf.Close()
	cfg.Close()
	dev.Close()
	d.ctx.Close()
	return fmt.Errorf("usb3: open endpoint: %w", err)
}

func (d *Driver) Close() error {
	if d.intf != nil {
		d.intf.Close()
	}
	if d.usbCfg != nil {
		d.usbCfg.Close()
	}
	if d.device != nil {
		d.device.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return nil
}

func (d *Driver) ReadStream(ctx context.Context, stream oni.ReadStream, buf []byte) (int, error) {
	switch stream {
	case oni.StreamData:
		n, err := d.dataIn.ReadContext(ctx, buf)
		if err != nil {
			return n, fmt.Errorf("usb3: data read: %w", err)
		}
		return n, nil
	case oni.StreamSignal:
		d.ctlMu.Lock()
		defer d.ctlMu.Unlock()
		n, err := d.ctlIn.ReadContext(ctx, buf)
		if err != nil {
			return n, fmt.Errorf("usb3: signal read: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("usb3: invalid stream path")
	}
}

func (d *Driver) WriteStream(ctx context.Context, stream oni.WriteStream, buf []byte) (int, error) {
	if stream != oni.StreamWriteData {
		return 0, fmt.Errorf("usb3: invalid stream path")
	}
	n, err := d.dataOut.WriteContext(ctx, buf)
	if err != nil {
		return n, fmt.Errorf("usb3: data write: %w", err)
	}
	return n, nil
}

// configPacketSize is the fixed control-channel packet used to carry one
// register access: 1-byte opcode (0 = write, 1 = read), 4-byte register
// address, 4-byte value.
const configPacketSize = 9

func (d *Driver) ReadConfig(reg oni.ConfigReg) (uint32, error) {
	d.ctlMu.Lock()
	defer d.ctlMu.Unlock()

	out := make([]byte, configPacketSize)
	out[0] = 1
	binary.LittleEndian.PutUint32(out[1:5], uint32(reg))
	if _, err := d.ctlOut.Write(out); err != nil {
		return 0, fmt.Errorf("usb3: config read request: %w", err)
	}

	in := make([]byte, configPacketSize)
	if _, err := d.ctlIn.Read(in); err != nil {
		return 0, fmt.Errorf("usb3: config read response: %w", err)
	}
	return binary.LittleEndian.Uint32(in[5:9]), nil
}

func (d *Driver) WriteConfig(reg oni.ConfigReg, value uint32) error {
	d.ctlMu.Lock()
	defer d.ctlMu.Unlock()

	out := make([]byte, configPacketSize)
	out[0] = 0
	binary.LittleEndian.PutUint32(out[1:5], uint32(reg))
	binary.LittleEndian.PutUint32(out[5:9], value)
	if _, err := d.ctlOut.Write(out); err != nil {
		return fmt.Errorf("usb3: config write: %w", err)
	}
	return nil
}

func (d *Driver) SetOptCallback(option int, value []byte) error {
	// BlockReadSize changes don't require any USB-side resize: the host
	// buffer is entirely host memory, unlike a DMA ring.
	return nil
}

func (d *Driver) SetOpt(option int, value []byte) error {
	return fmt.Errorf("usb3: no custom options")
}

func (d *Driver) GetOpt(option int, length int) ([]byte, error) {
	return nil, fmt.Errorf("usb3: no custom options")
}

func (d *Driver) Info() oni.DriverInfo {
	return oni.DriverInfo{Name: "usb3", Major: 1, Minor: 0, Patch: 0}
}
