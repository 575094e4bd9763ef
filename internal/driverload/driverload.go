// Package driverload dynamically resolves an oni.Driver from a compiled Go
// plugin, mirroring liboni's dlopen/dlsym driver-loading convention: a
// driver named "usb3" resolves to a shared object named onidriver_usb3.so,
// and the symbol looked up inside it is NewDriver.
package driverload

import (
	"fmt"
	"path/filepath"
	"plugin"

	"oni/pkg/oni"
)

const (
	libPrefix = "onidriver_"
	libExt    = ".so"
	// symbolName is the exported plugin symbol every driver module must
	// provide: func NewDriver() (oni.Driver, error).
	symbolName = "NewDriver"
)

// NewDriverFunc is the signature every onidriver_<name>.so plugin must
// export under the name "NewDriver".
type NewDriverFunc func() (oni.Driver, error)

// Open resolves onidriver_<name>.so (inside dir, or relative to the
// current working directory if dir is empty), loads it, and invokes its
// NewDriver symbol. Missing library files and missing or mistyped symbols
// all fail; a driver with an absent symbol is never partially bound.
func Open(dir, name string) (oni.Driver, error) {
	libName := libPrefix + name + libExt
	path := libName
	if dir != "" {
		path = filepath.Join(dir, libName)
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("driverload: opening %s: %w", path, err)
	}

	sym, err := p.Lookup(symbolName)
	if err != nil {
		return nil, fmt.Errorf("driverload: %s missing symbol %s: %w", path, symbolName, err)
	}

	newDriver, ok := sym.(func() (oni.Driver, error))
	if !ok {
		return nil, fmt.Errorf("driverload: %s symbol %s has unexpected type", path, symbolName)
	}

	drv, err := newDriver()
	if err != nil {
		return nil, fmt.Errorf("driverload: %s: NewDriver: %w", path, err)
	}
	return drv, nil
}
