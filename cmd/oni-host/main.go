// oni-host: minimal smoke-test harness for the ONI acquisition runtime
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oni/internal/config"
	"oni/internal/driverload"
	"oni/internal/transport/emulator"
	"oni/internal/transport/pcie"
	"oni/internal/transport/usb3"
	"oni/pkg/oni"
)

var (
	driverName = flag.String("driver", "", "driver to load: test, usb3, pcie, or a plugin name (empty = config/env)")
	libDir     = flag.String("lib-dir", "", "directory containing onidriver_<name>.so plugin files")
	hostIdx    = flag.Int("host-idx", -1, "host index passed to the driver's Init (-1 = config/env)")
	mode       = flag.String("mode", "info", "operation mode: info, stream")
	frames     = flag.Int("frames", 10, "number of frames to read in stream mode")
	timeout    = flag.Duration("timeout", 5*time.Second, "timeout for driver init and device discovery")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadHostConfig()
	if err != nil {
		log.Fatalf("oni-host: load config: %v", err)
	}
	if *driverName != "" {
		cfg.Driver = *driverName
	}
	if *libDir != "" {
		cfg.DriverLibDir = *libDir
	}
	if *hostIdx >= 0 {
		cfg.HostIdx = *hostIdx
	}

	drv, err := openDriver(cfg)
	if err != nil {
		log.Fatalf("oni-host: %v", err)
	}

	ctx := oni.New(drv)

	ctxTimeout, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := ctx.Init(ctxTimeout, cfg.HostIdx); err != nil {
		log.Fatalf("oni-host: init: %v", err)
	}
	defer ctx.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	switch *mode {
	case "info":
		runInfo(ctx)
	case "stream":
		runStream(ctx, stop)
	default:
		log.Fatalf("oni-host: unknown mode %q", *mode)
	}
}

func openDriver(cfg *config.HostConfig) (oni.Driver, error) {
	switch cfg.Driver {
	case "", "test":
		return emulator.New(), nil
	case "usb3":
		return usb3.New(usb3.DefaultConfig()), nil
	case "pcie":
		return pcie.New(pcie.DefaultConfig()), nil
	default:
		drv, err := driverload.Open(cfg.DriverLibDir, cfg.Driver)
		if err != nil {
			return nil, fmt.Errorf("open driver %q: %w", cfg.Driver, err)
		}
		return drv, nil
	}
}

func runInfo(ctx *oni.Context) {
	info := ctx.DriverInfo()
	log.Printf("driver: %s %d.%d.%d%s", info.Name, info.Major, info.Minor, info.Patch, info.PreRelease)

	devices, err := ctx.DeviceTable()
	if err != nil {
		log.Fatalf("oni-host: device table: %v", err)
	}
	log.Printf("%d device(s):", len(devices))
	for _, dev := range devices {
		log.Printf("  hub %d addr %d: id=%d version=%d read=%d write=%d",
			dev.Index.Hub(), dev.Index.Addr(), dev.ID, dev.Version, dev.ReadSize, dev.WriteSize)
	}
}

func runStream(ctx *oni.Context, stop <-chan os.Signal) {
	bg := context.Background()
	if err := ctx.SetOption(bg, oni.OptRunning, 1); err != nil {
		log.Fatalf("oni-host: start: %v", err)
	}
	defer ctx.SetOption(bg, oni.OptRunning, 0)

	for i := 0; i < *frames; i++ {
		select {
		case <-stop:
			log.Printf("oni-host: interrupted after %d frame(s)", i)
			return
		default:
		}

		f, err := ctx.ReadFrame(bg)
		if err != nil {
			log.Fatalf("oni-host: read frame: %v", err)
		}
		log.Printf("frame %d: dev=%#x bytes=%d", i, f.DevIndex, f.DataSize)
		f.Destroy()
	}
}
