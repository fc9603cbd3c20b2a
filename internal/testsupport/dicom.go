// Package testsupport writes small synthetic DICOM files for tests.
package testsupport

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

const (
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	secondaryCaptureClass  = "1.2.840.10008.5.1.4.1.1.7"
	segmentationClass      = "1.2.840.10008.5.1.4.1.1.66.4"
)

// Instance describes a synthetic single-plane DICOM file
type Instance struct {
	StudyUID       string
	SeriesUID      string
	InstanceUID    string
	InstanceNumber int
	Modality       string
	Rows           int
	Cols           int
	Frames         int
	// BitsAllocated is 1, 8 or 16
	BitsAllocated int
	// Pixels is the raw pixel data; generated as a gradient when nil
	Pixels []byte
}

// Gradient returns an 8-bit instance with a horizontal ramp
func Gradient(seriesUID, instanceUID string, number int) Instance {
	return Instance{
		StudyUID:       "1.2.3",
		SeriesUID:      seriesUID,
		InstanceUID:    instanceUID,
		InstanceNumber: number,
		Modality:       "CT",
		Rows:           8,
		Cols:           8,
		Frames:         1,
		BitsAllocated:  8,
	}
}

// WriteDICOM writes inst as an explicit VR little endian Part 10 file
func WriteDICOM(tb testing.TB, path string, inst Instance) {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, Encode(inst), 0o644); err != nil {
		tb.Fatalf("write dicom: %v", err)
	}
}

// Encode returns the Part 10 bytes of inst
func Encode(inst Instance) []byte {
	if inst.Frames <= 0 {
		inst.Frames = 1
	}
	if inst.BitsAllocated == 0 {
		inst.BitsAllocated = 8
	}
	sopClass := secondaryCaptureClass
	if inst.Modality == "SEG" {
		sopClass = segmentationClass
	}
	pixels := inst.Pixels
	if pixels == nil {
		pixels = gradient(inst)
	}

	var meta bytes.Buffer
	writeLong(&meta, 0x0002, 0x0001, "OB", []byte{0, 1})
	writeShort(&meta, 0x0002, 0x0002, "UI", uid(sopClass))
	writeShort(&meta, 0x0002, 0x0003, "UI", uid(inst.InstanceUID))
	writeShort(&meta, 0x0002, 0x0010, "UI", uid(explicitVRLittleEndian))

	var out bytes.Buffer
	out.Write(make([]byte, 128))
	out.WriteString("DICM")
	length := make([]byte, 4)
	binary.LittleEndian.PutUint32(length, uint32(meta.Len()))
	writeShort(&out, 0x0002, 0x0000, "UL", length)
	out.Write(meta.Bytes())

	bitsStored := inst.BitsAllocated
	writeShort(&out, 0x0008, 0x0016, "UI", uid(sopClass))
	writeShort(&out, 0x0008, 0x0018, "UI", uid(inst.InstanceUID))
	writeShort(&out, 0x0008, 0x0060, "CS", text(inst.Modality))
	writeShort(&out, 0x0020, 0x000D, "UI", uid(inst.StudyUID))
	writeShort(&out, 0x0020, 0x000E, "UI", uid(inst.SeriesUID))
	writeShort(&out, 0x0020, 0x0013, "IS", text(strconv.Itoa(inst.InstanceNumber)))
	writeShort(&out, 0x0028, 0x0002, "US", u16(1))
	writeShort(&out, 0x0028, 0x0004, "CS", text("MONOCHROME2"))
	writeShort(&out, 0x0028, 0x0008, "IS", text(strconv.Itoa(inst.Frames)))
	writeShort(&out, 0x0028, 0x0010, "US", u16(inst.Rows))
	writeShort(&out, 0x0028, 0x0011, "US", u16(inst.Cols))
	writeShort(&out, 0x0028, 0x0100, "US", u16(inst.BitsAllocated))
	writeShort(&out, 0x0028, 0x0101, "US", u16(bitsStored))
	writeShort(&out, 0x0028, 0x0102, "US", u16(bitsStored-1))
	writeShort(&out, 0x0028, 0x0103, "US", u16(0))

	vr := "OB"
	if inst.BitsAllocated == 16 {
		vr = "OW"
	}
	if len(pixels)%2 == 1 {
		pixels = append(pixels, 0)
	}
	writeLong(&out, 0x7FE0, 0x0010, vr, pixels)
	return out.Bytes()
}

func gradient(inst Instance) []byte {
	n := inst.Rows * inst.Cols * inst.Frames
	switch inst.BitsAllocated {
	case 1:
		return make([]byte, (n+7)/8)
	case 16:
		buf := make([]byte, n*2)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16((i%inst.Cols)*500))
		}
		return buf
	default:
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte((i % inst.Cols) * 255 / max(inst.Cols-1, 1))
		}
		return buf
	}
}

func writeShort(buf *bytes.Buffer, group, element uint16, vr string, value []byte) {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint16(header[0:], group)
	binary.LittleEndian.PutUint16(header[2:], element)
	copy(header[4:], vr)
	binary.LittleEndian.PutUint16(header[6:], uint16(len(value)))
	buf.Write(header)
	buf.Write(value)
}

func writeLong(buf *bytes.Buffer, group, element uint16, vr string, value []byte) {
	header := make([]byte, 12)
	binary.LittleEndian.PutUint16(header[0:], group)
	binary.LittleEndian.PutUint16(header[2:], element)
	copy(header[4:], vr)
	binary.LittleEndian.PutUint32(header[8:], uint32(len(value)))
	buf.Write(header)
	buf.Write(value)
}

func uid(v string) []byte {
	b := []byte(v)
	if len(b)%2 == 1 {
		b = append(b, 0)
	}
	return b
}

func text(v string) []byte {
	b := []byte(v)
	if len(b)%2 == 1 {
		b = append(b, ' ')
	}
	return b
}

func u16(v int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return b
}
