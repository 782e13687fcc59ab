package sdcard

// SectorSize is the size of every data block exchanged with the card.
const SectorSize = 512

// BlockSize is the unit of the offsets taken by ReadBlocks and WriteBlocks
// and of the count returned by Capacity: two card sectors.
const BlockSize = 2 * SectorSize

// Command opcodes used in SPI mode. ACMD opcodes must be preceded by
// CmdApp.
const (
	CmdGoIdle        = 0  // CMD0: software reset
	CmdSendIfCond    = 8  // CMD8: interface condition (SD v2)
	CmdSendCSD       = 9  // CMD9: read CSD register
	CmdStop          = 12 // CMD12: stop a multiple-block read
	CmdReadMultiple  = 18 // CMD18: read multiple blocks
	CmdSetWBECount   = 23 // ACMD23: pre-erase count for the next write
	CmdWriteMultiple = 25 // CMD25: write multiple blocks
	CmdSendOpCond    = 41 // ACMD41: start initialization (SD)
	CmdApp           = 55 // CMD55: application command prefix
	CmdReadOCR       = 58 // CMD58: read OCR register
)

// Command frame encoding.
const (
	frameSize   = 6
	frameMarker = 0x40 // start bit 0, transmission bit 1

	crcGoIdle    = 0x95 // valid CRC7 for CMD0 with argument 0
	crcSendIfCon = 0x87 // valid CRC7 for CMD8 with argument 0x1AA
)

// R1 status bits.
const (
	R1Idle           = 1 << 0
	R1EraseReset     = 1 << 1
	R1IllegalCommand = 1 << 2
	R1CRCError       = 1 << 3
	R1EraseSeqError  = 1 << 4
	R1AddressError   = 1 << 5
	R1ParameterError = 1 << 6
	r1Invalid        = 1 << 7 // always 0 in a valid reply
)

// Data tokens.
const (
	TokenStartBlock    = 0xFE // start of a data block (reads, CSD)
	TokenWriteMultiple = 0xFC // start of a data block in a multiple-block write
	TokenStopTran      = 0xFD // end of a multiple-block write
)

// Data response token.
const (
	dataResponseMask     = 0x1F
	dataResponseAccepted = 0x05
)

// Initialization arguments.
const (
	ifCondPattern = 0x1AA      // 2.7-3.6V range, check pattern 0xAA
	ifCondEcho    = 0xAA       // expected last byte of the R7 echo
	acmd41HCS     = 0x40000000 // host supports high capacity
	ocrBusyCCS    = 0xC0       // OCR[31:30]: power-up done, card capacity status

	resetClocks = 10 // filler bytes (80 clocks) before CMD0
)
