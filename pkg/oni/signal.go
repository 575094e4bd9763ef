package oni

import (
	"context"
	"encoding/binary"
)

// SignalType is the bitmask discriminant carried in the first four bytes of
// every unstuffed signal-channel payload.
type SignalType uint32

const (
	SigNull            SignalType = 1 << 0
	SigConfigWriteAck  SignalType = 1 << 1
	SigConfigWriteNack SignalType = 1 << 2
	SigConfigReadAck   SignalType = 1 << 3
	SigConfigReadNack  SignalType = 1 << 4
	SigDeviceTableAck  SignalType = 1 << 5
	SigDeviceInstance  SignalType = 1 << 6
)

// signalPumpMaxPackets bounds the skip-and-retry loop in pumpUntil so a
// stream of malformed or irrelevant packets cannot spin the caller forever;
// only hard transport errors should normally end the loop, but this keeps
// it from hanging indefinitely on a misbehaving driver.
const signalPumpMaxPackets = 4096

// readSignalPacket reads one COBS-delimited packet from the driver's
// Signal stream one byte at a time until a zero delimiter arrives, then
// returns its unstuffed contents as a newly allocated slice.
func readSignalPacket(ctx context.Context, drv Driver) ([]byte, error) {
	buf := make([]byte, 0, cobsMaxPacket)
	one := make([]byte, 1)
	for len(buf) < cobsMaxPacket {
		n, err := drv.ReadStream(ctx, StreamSignal, one)
		if err != nil || n != 1 {
			return nil, newErr("signal.read", ErrReadFailure, err)
		}
		buf = append(buf, one[0])
		if one[0] == 0x00 {
			return cobsDecode(buf)
		}
	}
	return nil, newErr("signal.read", ErrBadCOBSPacket, nil)
}

// readOneSignal reads exactly one signal packet and decodes its type and
// payload. Unlike pumpUntil, it never retries past a type mismatch: the
// caller gets back whatever signal actually arrived, so it can reject a
// strict expected-next-signal sequence (such as device-table discovery's
// one-instance-per-slot run) the instant it goes wrong.
func readOneSignal(ctx context.Context, drv Driver) (SignalType, []byte, error) {
	payload, err := readSignalPacket(ctx, drv)
	if err != nil {
		return 0, nil, err
	}
	if len(payload) < 4 {
		return 0, nil, newErr("signal.read", ErrBadCOBSPacket, nil)
	}
	typ := SignalType(binary.LittleEndian.Uint32(payload[:4]))
	return typ, payload[4:], nil
}

// pumpUntil reads signal packets, discarding any whose type is not in want,
// until one matches or signalPumpMaxPackets is exceeded. It returns the
// matched type and the payload following the 4-byte type word.
func pumpUntil(ctx context.Context, drv Driver, want SignalType) (SignalType, []byte, error) {
	for i := 0; i < signalPumpMaxPackets; i++ {
		payload, err := readSignalPacket(ctx, drv)
		if err != nil {
			return 0, nil, err
		}
		if len(payload) < 4 {
			continue // malformed packet: silently discarded, not fatal
		}
		got := SignalType(binary.LittleEndian.Uint32(payload[:4]))
		if got&want != 0 {
			return got, payload[4:], nil
		}
		// non-matching signal: discard and keep pumping
	}
	return 0, nil, newErr("signal.pump", ErrReadFailure, nil)
}
