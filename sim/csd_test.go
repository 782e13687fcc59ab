package sim

import "testing"

func TestCRC7(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  byte
	}{
		{"cmd0", []byte{0x40, 0x00, 0x00, 0x00, 0x00}, 0x95},
		{"cmd8", []byte{0x48, 0x00, 0x00, 0x01, 0xAA}, 0x87},
		{"cmd9", []byte{0x49, 0x00, 0x00, 0x00, 0x00}, 0xAF},
		{"cmd55", []byte{0x77, 0x00, 0x00, 0x00, 0x00}, 0x65},
		{"acmd41", []byte{0x69, 0x40, 0x00, 0x00, 0x00}, 0x77},
		{"cmd58", []byte{0x7A, 0x00, 0x00, 0x00, 0x00}, 0xFD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC7(tt.frame); got != tt.want {
				t.Errorf("CRC7(% x) = %#x, want %#x", tt.frame, got, tt.want)
			}
		})
	}
}

// csdBytes decodes a CSD register to a byte capacity.
func csdBytes(csd [16]byte) int64 {
	switch csd[0] >> 6 {
	case 1:
		csize := int64(csd[7]&0x3F)<<16 | int64(csd[8])<<8 | int64(csd[9])
		return (csize + 1) * 512 * 1024
	case 0:
		readBlLen := int64(csd[5] & 0x0F)
		csize := int64(csd[6]&0x03)<<10 | int64(csd[7])<<2 | int64(csd[8]>>6)
		mult := int64(csd[9]&0x03)<<1 | int64(csd[10]>>7)
		return (csize + 1) << (mult + 2) << readBlLen
	}
	return -1
}

func TestSynthesizeCSD(t *testing.T) {
	tests := []struct {
		kind    Kind
		size    int64
		version byte
		want    int64
	}{
		{KindSDHC, 8 << 20, 1, 8 << 20},
		{KindSDHC, 4 << 30, 1, 4 << 30},
		{KindSDHC, 100 << 10, 1, 512 << 10},
		{KindSD2, 8 << 20, 0, 8 << 20},
		{KindSD2, 1 << 30, 0, 1 << 30},
		{KindSD1, 2 << 20, 0, 2 << 20},
		{KindSD1, 1 << 20, 0, 1 << 20},
	}

	for _, tt := range tests {
		csd := SynthesizeCSD(tt.kind, tt.size)
		if v := csd[0] >> 6; v != tt.version {
			t.Errorf("%v %d: CSD version %d, want %d", tt.kind, tt.size, v, tt.version)
		}
		if got := csdBytes(csd); got != tt.want {
			t.Errorf("%v %d: decoded size %d, want %d", tt.kind, tt.size, got, tt.want)
		}
	}
}
