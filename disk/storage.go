package disk

// Storage is the block-level contract a unit offers to upper layers such
// as a filesystem or a mass-storage gadget.
type Storage interface {
	// BlockSize returns the size of a storage block in bytes.
	BlockSize() uint32

	// BlockCount returns the total number of blocks.
	BlockCount() uint64

	// Read reads blocks starting at lba into buf.
	// Returns number of blocks read or error.
	Read(lba uint64, blocks uint32, buf []byte) (uint32, error)

	// Write writes blocks from buf starting at lba.
	// Returns number of blocks written or error.
	Write(lba uint64, blocks uint32, buf []byte) (uint32, error)

	// Sync flushes any cached writes to storage.
	Sync() error

	// IsReadOnly returns true if storage is read-only.
	IsReadOnly() bool

	// IsRemovable returns true if media is removable.
	IsRemovable() bool

	// IsPresent returns true if media is present and initialized.
	IsPresent() bool

	// Eject releases the media.
	Eject() error
}

var _ Storage = (*Unit)(nil)
