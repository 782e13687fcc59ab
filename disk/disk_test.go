package disk

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/sdcard"
	"github.com/ardnew/softsd/sim"
)

const testImageSize = 1 << 20

func testConfig() sdcard.Config {
	cfg := sdcard.DefaultConfig()
	cfg.Diagnostics = sdcard.NewDiagnostics()
	for i := range cfg.Bounds {
		cfg.Bounds[i] = 64
	}
	return cfg
}

// attachSim attaches an emulated card as unit id.
func attachSim(t *testing.T, r *Registry, id int, kind sim.Kind, opts ...Option) (*Unit, *sim.Card, *sim.MemoryImage) {
	t.Helper()
	img := sim.NewMemoryImage(testImageSize)
	for i, b := 0, img.Bytes(); i < len(b); i++ {
		b[i] = byte(i ^ i>>10)
	}
	dev := sim.New(kind, img)
	opts = append([]Option{WithConfig(testConfig()), WithPower(dev), WithSettle(0)}, opts...)
	u, err := r.Attach(id, dev, opts...)
	if err != nil {
		t.Fatalf("Attach(%d) error = %v", id, err)
	}
	return u, dev, img
}

func TestRegistryUnitValidation(t *testing.T) {
	r := NewRegistry(2)
	attachSim(t, r, 0, sim.KindSDHC)

	for _, id := range []int{-1, 1, 2, 100} {
		if _, err := r.Initialize(id); !errors.Is(err, pkg.ErrInvalidUnit) {
			t.Errorf("Initialize(%d) error = %v, want %v", id, err, pkg.ErrInvalidUnit)
		}
		if err := r.ReadBlocks(id, 0, make([]byte, 8)); !errors.Is(err, pkg.ErrInvalidUnit) {
			t.Errorf("ReadBlocks(%d) error = %v, want %v", id, err, pkg.ErrInvalidUnit)
		}
		if err := r.WriteBlocks(id, 0, make([]byte, 8)); !errors.Is(err, pkg.ErrInvalidUnit) {
			t.Errorf("WriteBlocks(%d) error = %v, want %v", id, err, pkg.ErrInvalidUnit)
		}
		if err := r.Shutdown(id); !errors.Is(err, pkg.ErrInvalidUnit) {
			t.Errorf("Shutdown(%d) error = %v, want %v", id, err, pkg.ErrInvalidUnit)
		}
	}

	if _, err := r.Attach(2, sim.New(sim.KindSDHC, sim.NewMemoryImage(1024))); !errors.Is(err, pkg.ErrInvalidUnit) {
		t.Errorf("Attach(2) error = %v, want %v", err, pkg.ErrInvalidUnit)
	}
	if _, err := r.Attach(0, sim.New(sim.KindSDHC, sim.NewMemoryImage(1024))); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("second Attach(0) error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
	if _, err := r.Attach(1, nil); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Attach(nil) error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
	if got := len(r.Units()); got != 1 {
		t.Errorf("Units() has %d entries, want 1", got)
	}
	if NewRegistry(-3).Len() != 0 {
		t.Error("negative registry size not clamped")
	}
}

func TestInitialize(t *testing.T) {
	for _, kind := range []sim.Kind{sim.KindSD1, sim.KindSD2, sim.KindSDHC} {
		t.Run(kind.String(), func(t *testing.T) {
			r := NewRegistry(1)
			u, dev, _ := attachSim(t, r, 0, kind)
			if err := dev.PowerOff(); err != nil {
				t.Fatalf("PowerOff() error = %v", err)
			}

			blocks, err := r.Initialize(0)
			if err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}
			if blocks != testImageSize/sdcard.BlockSize {
				t.Errorf("Initialize() = %d blocks, want %d", blocks, testImageSize/sdcard.BlockSize)
			}
			if !dev.Powered() {
				t.Error("card not powered")
			}
			if !u.Ready() || !u.IsPresent() {
				t.Error("unit not ready")
			}
			if u.BlockCount() != uint64(blocks) {
				t.Errorf("BlockCount() = %d, want %d", u.BlockCount(), blocks)
			}
			if u.Class() == sdcard.ClassUnknown {
				t.Error("Class() unknown after Initialize")
			}
			if u.Stats().Inits != 1 {
				t.Errorf("Inits = %d, want 1", u.Stats().Inits)
			}
		})
	}
}

func TestInitializeFailure(t *testing.T) {
	tests := []struct {
		name    string
		faults  func(*sim.Faults)
		wantErr error
	}{
		{"no card", func(f *sim.Faults) { f.IdleAfter = 100 }, pkg.ErrNoCard},
		{"bad echo", func(f *sim.Faults) { f.Echo = 0x55 }, pkg.ErrUnsupportedCard},
		{"no size", func(f *sim.Faults) { f.Replies = map[byte]byte{sdcard.CmdSendCSD: 0x04} }, pkg.ErrCapacityQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(1)
			u, dev, _ := attachSim(t, r, 0, sim.KindSDHC)
			f := sim.DefaultFaults()
			tt.faults(&f)
			dev.SetFaults(f)

			_, err := r.Initialize(0)
			if !errors.Is(err, pkg.ErrNoDevice) || !errors.Is(err, tt.wantErr) {
				t.Fatalf("Initialize() error = %v, want %v and %v", err, pkg.ErrNoDevice, tt.wantErr)
			}
			if u.Ready() {
				t.Error("unit ready after failure")
			}
			if err := r.ReadBlocks(0, 0, make([]byte, 16)); !errors.Is(err, pkg.ErrNoDevice) {
				t.Errorf("ReadBlocks() error = %v, want %v", err, pkg.ErrNoDevice)
			}
			if u.Stats().Errors != 1 {
				t.Errorf("Errors = %d, want 1", u.Stats().Errors)
			}
		})
	}
}

func TestReadWriteBlocks(t *testing.T) {
	r := NewRegistry(1)
	u, dev, img := attachSim(t, r, 0, sim.KindSDHC)
	if _, err := r.Initialize(0); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	buf := make([]byte, 3*sdcard.BlockSize)
	if err := r.ReadBlocks(0, 5, buf); err != nil {
		t.Fatalf("ReadBlocks() error = %v", err)
	}
	if !bytes.Equal(buf, img.Bytes()[5*sdcard.BlockSize:8*sdcard.BlockSize]) {
		t.Error("ReadBlocks() data mismatch")
	}

	data := bytes.Repeat([]byte("softsd"), 300)
	if err := r.WriteBlocks(0, 10, data); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}
	if !bytes.Equal(img.Bytes()[10*sdcard.BlockSize:10*sdcard.BlockSize+len(data)], data) {
		t.Error("WriteBlocks() data not stored")
	}

	s := u.Stats()
	if s.Reads != 1 || s.Writes != 1 || s.BytesRead != uint64(len(buf)) || s.BytesWritten != uint64(len(data)) {
		t.Errorf("Stats() = %+v", s)
	}
	if dev.Selected() {
		t.Error("card left selected")
	}
}

func TestRangeAndReadOnly(t *testing.T) {
	r := NewRegistry(2)
	attachSim(t, r, 0, sim.KindSDHC)
	ro, _, _ := attachSim(t, r, 1, sim.KindSD2, WithReadOnly(true))
	for id := 0; id < 2; id++ {
		if _, err := r.Initialize(id); err != nil {
			t.Fatalf("Initialize(%d) error = %v", id, err)
		}
	}

	last := uint32(testImageSize/sdcard.BlockSize - 1)
	if err := r.ReadBlocks(0, last, make([]byte, sdcard.BlockSize)); err != nil {
		t.Errorf("read of last block error = %v", err)
	}
	if err := r.ReadBlocks(0, last, make([]byte, sdcard.BlockSize+1)); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("read past end error = %v, want %v", err, pkg.ErrOutOfRange)
	}
	if err := r.WriteBlocks(0, last+1, make([]byte, 1)); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("write past end error = %v, want %v", err, pkg.ErrOutOfRange)
	}

	if !ro.IsReadOnly() {
		t.Error("IsReadOnly() = false")
	}
	if err := r.WriteBlocks(1, 0, make([]byte, 10)); !errors.Is(err, pkg.ErrReadOnly) {
		t.Errorf("write to read-only unit error = %v, want %v", err, pkg.ErrReadOnly)
	}
	if err := r.ReadBlocks(1, 0, make([]byte, 10)); err != nil {
		t.Errorf("read from read-only unit error = %v", err)
	}
}

func TestShutdown(t *testing.T) {
	r := NewRegistry(1)
	u, dev, _ := attachSim(t, r, 0, sim.KindSDHC)
	if _, err := r.Initialize(0); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if err := r.Shutdown(0); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if dev.Powered() {
		t.Error("card still powered")
	}
	if u.Ready() {
		t.Error("unit still ready")
	}
	if err := r.ReadBlocks(0, 0, make([]byte, 10)); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("ReadBlocks() after Shutdown error = %v, want %v", err, pkg.ErrNoDevice)
	}

	if _, err := r.Initialize(0); err != nil {
		t.Fatalf("Initialize() after Shutdown error = %v", err)
	}
	if err := r.Detach(0); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if _, err := r.Unit(0); !errors.Is(err, pkg.ErrInvalidUnit) {
		t.Errorf("Unit() after Detach error = %v, want %v", err, pkg.ErrInvalidUnit)
	}
}

func TestStorage(t *testing.T) {
	r := NewRegistry(1)
	u, _, img := attachSim(t, r, 0, sim.KindSDHC)
	if _, err := r.Initialize(0); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	var s Storage = u
	if s.BlockSize() != sdcard.BlockSize || !s.IsRemovable() || !s.IsPresent() {
		t.Errorf("BlockSize=%d IsRemovable=%v IsPresent=%v", s.BlockSize(), s.IsRemovable(), s.IsPresent())
	}

	buf := make([]byte, 2*sdcard.BlockSize)
	if n, err := s.Read(3, 2, buf); err != nil || n != 2 {
		t.Fatalf("Read() = %d, %v", n, err)
	}
	if !bytes.Equal(buf, img.Bytes()[3*sdcard.BlockSize:5*sdcard.BlockSize]) {
		t.Error("Read() data mismatch")
	}
	if _, err := s.Read(0, 3, buf); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Read() short buffer error = %v", err)
	}
	if _, err := s.Read(s.BlockCount(), 1, buf); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Read() past end error = %v", err)
	}

	for i := range buf {
		buf[i] = 0x3C
	}
	if n, err := s.Write(7, 2, buf); err != nil || n != 2 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if !bytes.Equal(img.Bytes()[7*sdcard.BlockSize:9*sdcard.BlockSize], buf) {
		t.Error("Write() data not stored")
	}
	if err := s.Sync(); err != nil {
		t.Errorf("Sync() error = %v", err)
	}

	if err := s.Eject(); err != nil {
		t.Fatalf("Eject() error = %v", err)
	}
	if s.IsPresent() {
		t.Error("IsPresent() after Eject")
	}
}

func TestReaderAtWriterAt(t *testing.T) {
	r := NewRegistry(1)
	u, _, img := attachSim(t, r, 0, sim.KindSD2)
	if _, err := r.Initialize(0); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	tests := []struct {
		name string
		off  int64
		len  int
	}{
		{"aligned", 2048, 1024},
		{"inside one block", 5000, 10},
		{"across blocks", 3000, 2500},
		{"head only", 4096, 100},
		{"tail only", 6000, 144},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := bytes.Clone(img.Bytes())

			got := make([]byte, tt.len)
			if n, err := u.ReadAt(got, tt.off); err != nil || n != tt.len {
				t.Fatalf("ReadAt() = %d, %v", n, err)
			}
			if !bytes.Equal(got, before[tt.off:tt.off+int64(tt.len)]) {
				t.Fatal("ReadAt() data mismatch")
			}

			data := bytes.Repeat([]byte{0xC3}, tt.len)
			if n, err := u.WriteAt(data, tt.off); err != nil || n != tt.len {
				t.Fatalf("WriteAt() = %d, %v", n, err)
			}
			want := bytes.Clone(before)
			copy(want[tt.off:], data)
			if !bytes.Equal(img.Bytes(), want) {
				t.Error("WriteAt() changed bytes outside the range")
			}
		})
	}

	size := int64(testImageSize)
	tail := make([]byte, 100)
	if n, err := u.ReadAt(tail, size-40); !errors.Is(err, io.EOF) || n != 40 {
		t.Errorf("ReadAt() at end = %d, %v", n, err)
	}
	if _, err := u.ReadAt(tail, size); !errors.Is(err, io.EOF) {
		t.Errorf("ReadAt() past end error = %v", err)
	}
	if _, err := u.WriteAt(tail, size-40); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("WriteAt() past end error = %v", err)
	}
	if _, err := u.ReadAt(tail, -1); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("ReadAt() negative offset error = %v", err)
	}
}

func TestRegistryDiagnostics(t *testing.T) {
	r := NewRegistry(2)
	attachSim(t, r, 0, sim.KindSDHC)
	attachSim(t, r, 1, sim.KindSD2)
	for id := 0; id < 2; id++ {
		if _, err := r.Initialize(id); err != nil {
			t.Fatalf("Initialize(%d) error = %v", id, err)
		}
	}
	snap := r.Diagnostics()
	if got := snap.Get(pkg.PhaseSendOp); got != int64(sim.DefaultFaults().InitPolls) {
		t.Errorf("send_op = %d, want %d", got, sim.DefaultFaults().InitPolls)
	}
	if got := snap.Get(pkg.PhaseSendCSD); got != int64(sim.DefaultFaults().CSDLatency) {
		t.Errorf("send_csd = %d, want %d", got, sim.DefaultFaults().CSDLatency)
	}
}
