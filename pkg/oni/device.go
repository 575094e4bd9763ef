package oni

import "sort"

// DeviceIndex is the 32-bit address of a device on the bus: a hub/slot
// pair in the high bytes selecting a physical bus segment plus a
// position/subtype pair in the low bytes, per the GLOSSARY's "Device
// index"/"Hub manager" entries.
type DeviceIndex uint32

// Hub returns the hub-selecting portion of the index: every byte above the
// low address byte, left in place (idx & 0xFFFFFF00).
func (d DeviceIndex) Hub() uint32 { return uint32(d) & 0xFFFFFF00 }

// Addr returns the within-hub address byte of the index.
func (d DeviceIndex) Addr() uint8 { return uint8(uint32(d) & 0xFF) }

// Device is the immutable descriptor discovery yields for one device: its
// bus address, its type identifier, its firmware version, and the byte
// sizes of one read or write frame's payload.
type Device struct {
	Index     DeviceIndex
	ID        uint32
	Version   uint32
	ReadSize  uint32
	WriteSize uint32
}

// Readable reports whether the device produces frames.
func (d Device) Readable() bool { return d.ReadSize > 0 }

// Writable reports whether the device accepts frames.
func (d Device) Writable() bool { return d.WriteSize > 0 }

// deviceInstanceWireSize is the wire size of one DeviceInstance signal
// payload: u32 idx, id, version, read_size, write_size.
const deviceInstanceWireSize = 5 * 4

const hashSentinel = 0xFFFFFFFF
const hashLoadFactor = 10

// deviceTable holds the sorted device list plus its open-addressing hash
// index, built fresh on every discovery run.
type deviceTable struct {
	devices []Device
	hash    []uint32 // slot -> index into devices, or hashSentinel
}

// mix32 is a Murmur3-style 32-bit finalizer used to scatter device indices
// across the hash table.
func mix32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x85ebca6b
	x ^= x >> 13
	x *= 0xc2b2ae35
	x ^= x >> 16
	return x
}

// newDeviceTable sorts devs ascending by index, rejects duplicate indices, and
// constructs the hash index sized at ceil(N*10)+1.
func newDeviceTable(devs []Device) (*deviceTable, error) {
	sorted := make([]Device, len(devs))
	copy(sorted, devs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Index == sorted[i-1].Index {
			return nil, newErr("deviceTable.build", ErrRepeatedDeviceIndex, nil)
		}
	}

	size := len(sorted)*hashLoadFactor + 1
	hash := make([]uint32, size)
	for i := range hash {
		hash[i] = hashSentinel
	}

	for i, d := range sorted {
		slot := int(mix32(uint32(d.Index))) % size
		if slot < 0 {
			slot += size
		}
		for hash[slot] != hashSentinel {
			slot = (slot + 1) % size
		}
		hash[slot] = uint32(i)
	}

	return &deviceTable{devices: sorted, hash: hash}, nil
}

// lookup finds the table slot for idx, probing from mix(idx) mod size
// until it finds a matching index (hit) or the sentinel (miss).
func (t *deviceTable) lookup(idx DeviceIndex) (Device, bool) {
	if len(t.hash) == 0 {
		return Device{}, false
	}
	size := len(t.hash)
	slot := int(mix32(uint32(idx))) % size
	if slot < 0 {
		slot += size
	}
	for {
		entry := t.hash[slot]
		if entry == hashSentinel {
			return Device{}, false
		}
		if t.devices[entry].Index == idx {
			return t.devices[entry], true
		}
		slot = (slot + 1) % size
	}
}

func (t *deviceTable) count() int { return len(t.devices) }
