// Package descriptor decodes USB device descriptors as exposed by usbfs
// device nodes (/dev/bus/usb/BBB/DDD). Reading such a node yields the raw
// 18-byte device descriptor followed by the configuration descriptors.
package descriptor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Size is the length of a USB device descriptor in bytes.
const Size = 18

// TypeDevice is the bDescriptorType value of a device descriptor.
const TypeDevice = 0x01

// Field offsets within a device descriptor (USB 2.0 Table 9-8).
const (
	offLength         = 0
	offDescriptorType = 1
	offUSBVersion     = 2
	offDeviceClass    = 4
	offDeviceSubClass = 5
	offDeviceProtocol = 6
	offMaxPacketSize0 = 7
	offVendorID       = 8
	offProductID      = 10
	offDeviceVersion  = 12
	offManufacturer   = 14
	offProduct        = 15
	offSerialNumber   = 16
	offNumConfigs     = 17
)

// ErrTooShort is returned by Decode when fewer than Size bytes are given.
var ErrTooShort = errors.New("descriptor too short")

// Identity is the stable hardware identity of a device.
type Identity struct {
	VendorID  uint16
	ProductID uint16
}

// String renders the identity as vvvv:pppp in lower-case hex.
func (id Identity) String() string {
	return fmt.Sprintf("%04x:%04x", id.VendorID, id.ProductID)
}

// ParseIdentity parses the vvvv:pppp form produced by Identity.String.
func ParseIdentity(s string) (Identity, error) {
	vid, pid, ok := strings.Cut(s, ":")
	if !ok {
		return Identity{}, fmt.Errorf("invalid identity %q: want vvvv:pppp", s)
	}
	v, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid vendor id %q: %w", vid, err)
	}
	p, err := strconv.ParseUint(pid, 16, 16)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid product id %q: %w", pid, err)
	}
	return Identity{VendorID: uint16(v), ProductID: uint16(p)}, nil
}

// DeviceDescriptor is a decoded USB device descriptor.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16 // BCD
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // BCD
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// Identity returns the vendor/product pair of the descriptor.
func (d DeviceDescriptor) Identity() Identity {
	return Identity{VendorID: d.VendorID, ProductID: d.ProductID}
}

// MarshalBinary encodes the descriptor in its little-endian wire layout.
func (d DeviceDescriptor) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	buf[offLength] = d.Length
	buf[offDescriptorType] = d.DescriptorType
	binary.LittleEndian.PutUint16(buf[offUSBVersion:], d.USBVersion)
	buf[offDeviceClass] = d.DeviceClass
	buf[offDeviceSubClass] = d.DeviceSubClass
	buf[offDeviceProtocol] = d.DeviceProtocol
	buf[offMaxPacketSize0] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[offVendorID:], d.VendorID)
	binary.LittleEndian.PutUint16(buf[offProductID:], d.ProductID)
	binary.LittleEndian.PutUint16(buf[offDeviceVersion:], d.DeviceVersion)
	buf[offManufacturer] = d.ManufacturerIndex
	buf[offProduct] = d.ProductIndex
	buf[offSerialNumber] = d.SerialNumberIndex
	buf[offNumConfigs] = d.NumConfigurations
	return buf, nil
}

// Decode decodes every field of a device descriptor. Extra trailing bytes
// (configuration descriptors) are ignored.
func Decode(data []byte) (DeviceDescriptor, error) {
	if len(data) < Size {
		return DeviceDescriptor{}, fmt.Errorf("%w: got %d bytes, want %d", ErrTooShort, len(data), Size)
	}
	return DeviceDescriptor{
		Length:            data[offLength],
		DescriptorType:    data[offDescriptorType],
		USBVersion:        binary.LittleEndian.Uint16(data[offUSBVersion:]),
		DeviceClass:       data[offDeviceClass],
		DeviceSubClass:    data[offDeviceSubClass],
		DeviceProtocol:    data[offDeviceProtocol],
		MaxPacketSize0:    data[offMaxPacketSize0],
		VendorID:          binary.LittleEndian.Uint16(data[offVendorID:]),
		ProductID:         binary.LittleEndian.Uint16(data[offProductID:]),
		DeviceVersion:     binary.LittleEndian.Uint16(data[offDeviceVersion:]),
		ManufacturerIndex: data[offManufacturer],
		ProductIndex:      data[offProduct],
		SerialNumberIndex: data[offSerialNumber],
		NumConfigurations: data[offNumConfigs],
	}, nil
}

// Parse reads the first Size bytes of r and extracts the device identity.
// It reports false when r yields fewer than Size bytes or fails to read;
// most entries under a dev directory are not device nodes, so this is not
// treated as an error.
func Parse(r io.Reader) (Identity, bool) {
	var buf [Size]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Identity{}, false
	}
	return Identity{
		VendorID:  binary.LittleEndian.Uint16(buf[offVendorID:]),
		ProductID: binary.LittleEndian.Uint16(buf[offProductID:]),
	}, true
}

// ParseFile opens path and parses it with Parse.
func ParseFile(path string) (Identity, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Identity{}, false
	}
	defer f.Close()

	return Parse(f)
}

// ReadFile reads and fully decodes the descriptor at the head of path.
func ReadFile(path string) (DeviceDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return DeviceDescriptor{}, err
	}
	defer f.Close()

	var buf [Size]byte
	n, err := io.ReadFull(f, buf[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return DeviceDescriptor{}, err
	}
	return Decode(buf[:n])
}
