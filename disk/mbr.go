package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-restruct/restruct"

	"github.com/ardnew/softsd/pkg"
)

// ErrNoPartitionTable indicates sector 0 does not end in the boot
// signature.
var ErrNoPartitionTable = errors.New("no partition table")

const (
	mbrSize      = 512
	mbrSignature = 0xAA55
	sectorBytes  = 512
)

// Partition types commonly found on cards.
const (
	TypeEmpty      = 0x00
	TypeFAT12      = 0x01
	TypeFAT16Small = 0x04
	TypeFAT16      = 0x06
	TypeExFAT      = 0x07
	TypeFAT32      = 0x0B
	TypeFAT32LBA   = 0x0C
	TypeFAT16LBA   = 0x0E
	TypeLinux      = 0x83
	TypeGPT        = 0xEE
)

// partitionEntry is one 16-byte slot of the table.
type partitionEntry struct {
	Status   uint8
	FirstCHS [3]byte
	Type     uint8
	LastCHS  [3]byte
	Start    uint32
	Sectors  uint32
}

type masterBootRecord struct {
	Boot      [446]byte
	Entries   [4]partitionEntry
	Signature uint16
}

// Partition is a used slot of the table. Start and Sectors count 512-byte
// sectors from the beginning of the card.
type Partition struct {
	Index    int
	Bootable bool
	Type     uint8
	Start    uint32
	Sectors  uint32
}

// Offset returns the byte offset of the partition.
func (p Partition) Offset() int64 {
	return int64(p.Start) * sectorBytes
}

// Size returns the byte length of the partition.
func (p Partition) Size() int64 {
	return int64(p.Sectors) * sectorBytes
}

// TypeName returns a short name for the partition type.
func (p Partition) TypeName() string {
	switch p.Type {
	case TypeFAT12:
		return "FAT12"
	case TypeFAT16Small, TypeFAT16, TypeFAT16LBA:
		return "FAT16"
	case TypeExFAT:
		return "exFAT/NTFS"
	case TypeFAT32, TypeFAT32LBA:
		return "FAT32"
	case TypeLinux:
		return "Linux"
	case TypeGPT:
		return "GPT protective"
	default:
		return fmt.Sprintf("type %#02x", p.Type)
	}
}

// Partitions decodes the master boot record at the start of r and returns
// its non-empty entries.
func Partitions(r io.ReaderAt) ([]Partition, error) {
	raw := make([]byte, mbrSize)
	if _, err := r.ReadAt(raw, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}

	var mbr masterBootRecord
	if err := restruct.Unpack(raw, binary.LittleEndian, &mbr); err != nil {
		return nil, fmt.Errorf("decode boot sector: %w", err)
	}
	if mbr.Signature != mbrSignature {
		return nil, fmt.Errorf("%w: signature %#04x", ErrNoPartitionTable, mbr.Signature)
	}

	var parts []Partition
	for i, e := range mbr.Entries {
		if e.Type == TypeEmpty || e.Sectors == 0 {
			continue
		}
		parts = append(parts, Partition{
			Index:    i,
			Bootable: e.Status&0x80 != 0,
			Type:     e.Type,
			Start:    e.Start,
			Sectors:  e.Sectors,
		})
	}
	pkg.LogDebug(pkg.ComponentDisk, "partition table decoded", "partitions", len(parts))
	return parts, nil
}

// WritePartitions replaces the table in sector 0 of rw with parts, keeping
// the boot code. CHS fields are written as the LBA-only marker.
func WritePartitions(rw interface {
	io.ReaderAt
	io.WriterAt
}, parts []Partition) error {
	if len(parts) > 4 {
		return fmt.Errorf("%w: %d partitions", pkg.ErrInvalidParameter, len(parts))
	}

	raw := make([]byte, mbrSize)
	if _, err := rw.ReadAt(raw, 0); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read boot sector: %w", err)
	}
	var mbr masterBootRecord
	if err := restruct.Unpack(raw, binary.LittleEndian, &mbr); err != nil {
		return fmt.Errorf("decode boot sector: %w", err)
	}

	mbr.Entries = [4]partitionEntry{}
	used := make(map[int]bool)
	for _, p := range parts {
		if p.Index < 0 || p.Index > 3 || used[p.Index] {
			return fmt.Errorf("%w: partition slot %d", pkg.ErrInvalidParameter, p.Index)
		}
		used[p.Index] = true
		e := partitionEntry{
			Type:     p.Type,
			FirstCHS: [3]byte{0xFE, 0xFF, 0xFF},
			LastCHS:  [3]byte{0xFE, 0xFF, 0xFF},
			Start:    p.Start,
			Sectors:  p.Sectors,
		}
		if p.Bootable {
			e.Status = 0x80
		}
		mbr.Entries[p.Index] = e
	}
	mbr.Signature = mbrSignature

	out, err := restruct.Pack(binary.LittleEndian, &mbr)
	if err != nil {
		return fmt.Errorf("encode boot sector: %w", err)
	}
	if _, err := rw.WriteAt(out, 0); err != nil {
		return fmt.Errorf("write boot sector: %w", err)
	}
	return nil
}
