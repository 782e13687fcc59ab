package sim

import (
	"bytes"
	"testing"
)

// frame encodes a command with a valid CRC.
func frame(op byte, arg uint32) []byte {
	f := []byte{0x40 | op, byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg)}
	return append(f, CRC7(f))
}

// command sends a frame and returns the first byte with bit 7 clear, or
// 0xFF if none arrives within a few bytes.
func command(c *Card, op byte, arg uint32) byte {
	c.WriteBulk(frame(op, arg))
	for i := 0; i < 16; i++ {
		if b, _ := c.Exchange(filler); b&0x80 == 0 {
			return b
		}
	}
	return filler
}

// boot clocks the card at identification speed and sends CMD0.
func boot(c *Card) byte {
	c.SetBitRate(250)
	c.Deselect()
	c.WriteBulk(bytes.Repeat([]byte{filler}, 10))
	c.Select()
	return command(c, 0, 0)
}

// ready boots the card and runs ACMD41 until it leaves idle.
func ready(t *testing.T, c *Card) {
	t.Helper()
	if r := boot(c); r != r1Idle {
		t.Fatalf("CMD0 reply %#x", r)
	}
	for i := 0; i < 10; i++ {
		command(c, 55, 0)
		if command(c, 41, hcs) == 0 {
			return
		}
	}
	t.Fatal("card never left idle")
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindSD1, KindSD2, KindSDHC} {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if _, ok := ParseKind("mmc"); ok {
		t.Error("ParseKind(mmc) succeeded")
	}
	if s := Kind(0).String(); s != "unknown" {
		t.Errorf("Kind(0).String() = %q", s)
	}
}

func TestGoIdleConditions(t *testing.T) {
	t.Run("no power-up clocks", func(t *testing.T) {
		c := New(KindSDHC, NewMemoryImage(1<<20))
		c.SetBitRate(250)
		c.Select()
		if r := command(c, 0, 0); r != filler {
			t.Errorf("CMD0 reply %#x without power-up clocks", r)
		}
	})

	t.Run("fast clock", func(t *testing.T) {
		c := New(KindSDHC, NewMemoryImage(1<<20))
		c.SetBitRate(25000)
		c.Deselect()
		c.WriteBulk(bytes.Repeat([]byte{filler}, 10))
		c.Select()
		if r := command(c, 0, 0); r != filler {
			t.Errorf("CMD0 reply %#x at 25 MHz", r)
		}
	})

	t.Run("bad crc", func(t *testing.T) {
		c := New(KindSDHC, NewMemoryImage(1<<20))
		c.SetBitRate(250)
		c.WriteBulk(bytes.Repeat([]byte{filler}, 10))
		c.Select()
		c.WriteBulk([]byte{0x40, 0, 0, 0, 0, 0x01})
		var r byte = filler
		for i := 0; i < 4 && r == filler; i++ {
			r, _ = c.Exchange(filler)
		}
		if r != r1Idle|r1CRC {
			t.Errorf("CMD0 reply %#x, want %#x", r, r1Idle|r1CRC)
		}
	})

	t.Run("idle after", func(t *testing.T) {
		f := DefaultFaults()
		f.IdleAfter = 2
		c := New(KindSDHC, NewMemoryImage(1<<20), WithFaults(f))
		for i := 0; i < 2; i++ {
			if r := boot(c); r != filler {
				t.Fatalf("CMD0 #%d reply %#x", i, r)
			}
		}
		if r := boot(c); r != r1Idle {
			t.Errorf("CMD0 #2 reply %#x, want idle", r)
		}
	})
}

func TestCommandsBeforeGoIdle(t *testing.T) {
	c := New(KindSDHC, NewMemoryImage(1<<20))
	c.Select()
	if r := command(c, 8, 0x1AA); r != filler {
		t.Errorf("CMD8 reply %#x before CMD0", r)
	}
	if got := c.CountCommands(8); got != 1 {
		t.Errorf("CMD8 logged %d times, want 1", got)
	}
}

func TestSendIfCond(t *testing.T) {
	tests := []struct {
		kind Kind
		echo byte
		r1   byte
		want []byte
	}{
		{KindSD1, 0, r1Idle | r1Illegal, nil},
		{KindSD2, 0, r1Idle, []byte{0x00, 0x00, 0x01, 0xAA}},
		{KindSDHC, 0x5A, r1Idle, []byte{0x00, 0x00, 0x01, 0x5A}},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			f := DefaultFaults()
			f.Echo = tt.echo
			c := New(tt.kind, NewMemoryImage(1<<20), WithFaults(f))
			boot(c)
			if r := command(c, 8, 0x1AA); r != tt.r1 {
				t.Fatalf("CMD8 reply %#x, want %#x", r, tt.r1)
			}
			if tt.want == nil {
				return
			}
			echo := make([]byte, 4)
			c.ReadBulk(echo)
			if !bytes.Equal(echo, tt.want) {
				t.Errorf("echo % x, want % x", echo, tt.want)
			}
		})
	}
}

func TestSendOpCond(t *testing.T) {
	t.Run("requires app prefix", func(t *testing.T) {
		c := New(KindSD2, NewMemoryImage(1<<20))
		boot(c)
		if r := command(c, 41, 0); r != r1Idle|r1Illegal {
			t.Errorf("CMD41 reply %#x, want illegal", r)
		}
	})

	t.Run("sdhc needs hcs", func(t *testing.T) {
		f := DefaultFaults()
		f.InitPolls = 0
		c := New(KindSDHC, NewMemoryImage(1<<20), WithFaults(f))
		boot(c)
		for i := 0; i < 5; i++ {
			command(c, 55, 0)
			if r := command(c, 41, 0); r != r1Idle {
				t.Fatalf("ACMD41 without HCS reply %#x", r)
			}
		}
		command(c, 55, 0)
		if r := command(c, 41, hcs); r != 0 {
			t.Errorf("ACMD41 with HCS reply %#x", r)
		}
		if !c.Ready() {
			t.Error("Ready() = false")
		}
	})

	t.Run("init polls", func(t *testing.T) {
		c := New(KindSD2, NewMemoryImage(1<<20))
		boot(c)
		polls := 0
		for ; polls < 10; polls++ {
			command(c, 55, 0)
			if command(c, 41, hcs) == 0 {
				break
			}
		}
		if polls != DefaultFaults().InitPolls {
			t.Errorf("ready after %d polls, want %d", polls, DefaultFaults().InitPolls)
		}
	})
}

func TestReadOCR(t *testing.T) {
	tests := []struct {
		kind Kind
		ocr0 byte
	}{
		{KindSD2, 0x80},
		{KindSDHC, 0xC0},
	}

	for _, tt := range tests {
		c := New(tt.kind, NewMemoryImage(1<<20))
		ready(t, c)
		if r := command(c, 58, 0); r != 0 {
			t.Fatalf("%v: CMD58 reply %#x", tt.kind, r)
		}
		ocr := make([]byte, 4)
		c.ReadBulk(ocr)
		if ocr[0] != tt.ocr0 {
			t.Errorf("%v: OCR[0] = %#x, want %#x", tt.kind, ocr[0], tt.ocr0)
		}
	}
}

func TestTransferAddressing(t *testing.T) {
	tests := []struct {
		kind Kind
		arg  uint32
		want byte
	}{
		{KindSD2, 1024, 0},
		{KindSD2, 1000, r1Address},
		{KindSD2, 1 << 20, r1Address},
		{KindSDHC, 2, 0},
		{KindSDHC, 2048, r1Address},
	}

	for _, tt := range tests {
		c := New(tt.kind, NewMemoryImage(1<<20))
		ready(t, c)
		if r := command(c, 18, tt.arg); r != tt.want {
			t.Errorf("%v: CMD18(%d) reply %#x, want %#x", tt.kind, tt.arg, r, tt.want)
		}
	}
}

func TestReadStream(t *testing.T) {
	img := NewMemoryImage(1 << 20)
	for i, b := 0, img.Bytes(); i < len(b); i++ {
		b[i] = byte(i)
	}
	b := img.Bytes()
	b[SectorSize] = 0xAB
	c := New(KindSDHC, img)
	ready(t, c)
	c.ClearLog()

	if r := command(c, 18, 1); r != 0 {
		t.Fatalf("CMD18 reply %#x", r)
	}
	for s := 1; s <= 2; s++ {
		var tok byte = filler
		for i := 0; i < 16 && tok == filler; i++ {
			tok, _ = c.Exchange(filler)
		}
		if tok != tokenStart {
			t.Fatalf("sector %d token %#x", s, tok)
		}
		data := make([]byte, SectorSize+2)
		c.ReadBulk(data)
		if !bytes.Equal(data[:SectorSize], b[s*SectorSize:(s+1)*SectorSize]) {
			t.Errorf("sector %d data mismatch", s)
		}
	}
	if r := command(c, 12, 0); r != 0 {
		t.Fatalf("CMD12 reply %#x", r)
	}
	if got := c.Stats().SectorsRead; got != 2 {
		t.Errorf("SectorsRead = %d, want 2", got)
	}
}

func TestWritePacket(t *testing.T) {
	img := NewMemoryImage(1 << 20)
	f := DefaultFaults()
	f.WriteBusy = 3
	c := New(KindSD2, img, WithFaults(f))
	ready(t, c)

	if r := command(c, 25, 2*SectorSize); r != 0 {
		t.Fatalf("CMD25 reply %#x", r)
	}
	data := bytes.Repeat([]byte{0x42}, SectorSize)
	c.Exchange(tokenWriteMult)
	c.WriteBulk(data)
	c.WriteBulk([]byte{0, 0})

	resp, _ := c.Exchange(filler)
	if resp != dataAccepted {
		t.Fatalf("data response %#x", resp)
	}
	busy := make([]byte, 4)
	c.ReadBulk(busy)
	if !bytes.Equal(busy, []byte{0, 0, 0, filler}) {
		t.Errorf("busy bytes % x", busy)
	}
	c.Exchange(tokenStopTran)
	if !bytes.Equal(img.Bytes()[2*SectorSize:3*SectorSize], data) {
		t.Error("sector not stored")
	}
	if got := c.Stats().SectorsWritten; got != 1 {
		t.Errorf("SectorsWritten = %d, want 1", got)
	}
}

func TestDeselectedIgnoresInput(t *testing.T) {
	c := New(KindSDHC, NewMemoryImage(1<<20))
	ready(t, c)
	c.Deselect()
	c.WriteBulk(frame(58, 0))
	c.Select()
	for i := 0; i < 8; i++ {
		if b, _ := c.Exchange(filler); b != filler {
			t.Fatalf("exchange %d returned %#x", i, b)
		}
	}
}

func TestPower(t *testing.T) {
	c := New(KindSDHC, NewMemoryImage(1<<20))
	ready(t, c)

	if err := c.PowerOff(); err != nil {
		t.Fatalf("PowerOff() error = %v", err)
	}
	if c.Powered() || c.Ready() {
		t.Error("card still powered or ready")
	}
	if b, _ := c.Exchange(0x40); b != filler {
		t.Errorf("unpowered card returned %#x", b)
	}
	if err := c.PowerOn(); err != nil {
		t.Fatalf("PowerOn() error = %v", err)
	}
	c.Select()
	if r := command(c, 0, 0); r != filler {
		t.Errorf("CMD0 reply %#x right after power-up", r)
	}
	if r := boot(c); r != r1Idle {
		t.Errorf("CMD0 reply %#x after power-up clocks", r)
	}
}

func TestStats(t *testing.T) {
	c := New(KindSD2, NewMemoryImage(1<<20))
	ready(t, c)
	s := c.Stats()
	if s.Commands != len(c.Commands()) || s.Selects == 0 {
		t.Errorf("Stats() = %+v", s)
	}
	c.ClearLog()
	if s := c.Stats(); s != (Stats{}) || len(c.Commands()) != 0 {
		t.Errorf("Stats() after ClearLog = %+v", s)
	}
}
