package sim

// CRC7 computes the command CRC of frame bytes 0..4, with the end bit set.
func CRC7(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 0; i < 8; i++ {
			crc <<= 1
			if (b^crc)&0x80 != 0 {
				crc ^= 0x09
			}
			b <<= 1
		}
	}
	return crc<<1 | 1
}

// SynthesizeCSD builds a CSD register describing size bytes for the given
// card kind. Sizes are rounded down to what the register can express:
// 512 KiB units for version 2 layouts, READ_BL_LEN 512 with the smallest
// fitting C_SIZE_MULT for version 1.
func SynthesizeCSD(kind Kind, size int64) [16]byte {
	var csd [16]byte
	if kind == KindSDHC {
		csize := size/(512*1024) - 1
		if csize < 0 {
			csize = 0
		}
		csd[0] = 0x40
		csd[5] = 0x59 // CCC, READ_BL_LEN = 9
		csd[7] = byte(csize>>16) & 0x3F
		csd[8] = byte(csize >> 8)
		csd[9] = byte(csize)
		csd[15] = 0x01
		return csd
	}

	const readBlLen = 9
	mult := int64(0)
	for mult < 7 && size>>(readBlLen+mult+2) > 4096 {
		mult++
	}
	csize := size>>(readBlLen+mult+2) - 1
	if csize < 0 {
		csize = 0
	}
	if csize > 4095 {
		csize = 4095
	}
	csd[0] = 0x00
	csd[5] = 0x50 | readBlLen
	csd[6] = byte(csize>>10) & 0x03
	csd[7] = byte(csize >> 2)
	csd[8] = byte(csize&0x03) << 6
	csd[9] = byte(mult>>1) & 0x03
	csd[10] = byte(mult&0x01) << 7
	csd[15] = 0x01
	return csd
}
