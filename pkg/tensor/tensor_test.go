package tensor

import "testing"

func TestNewTensor(t *testing.T) {
	if _, err := NewTensor(4, make([]float32, 4*4*3)); err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}

	if _, err := NewTensor(4, make([]float32, 4*4)); err == nil {
		t.Error("Expected error for a single-channel buffer")
	}

	if _, err := NewTensor(-1, nil); err == nil {
		t.Error("Expected error for negative size")
	}
}

func TestTensorIndex(t *testing.T) {
	tt := Zeros(8)
	if tt.Len() != 8*8*3 {
		t.Fatalf("Expected %d values, got %d", 8*8*3, tt.Len())
	}

	if got := tt.Index(1, 2, 1); got != (1*8+2)*3+1 {
		t.Errorf("Unexpected index %d", got)
	}
}

func TestNewMaps(t *testing.T) {
	tests := []struct {
		name    string
		grid    int
		conf    int
		size    int
		offset  int
		wantErr bool
	}{
		{"valid 16", 16, 256, 512, 512, false},
		{"valid 4", 4, 16, 32, 32, false},
		{"short conf", 16, 255, 512, 512, true},
		{"short size", 16, 256, 256, 512, true},
		{"long offset", 16, 256, 512, 513, true},
		{"zero grid", 0, 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMaps(tt.grid, make([]float32, tt.conf), make([]float32, tt.size), make([]float32, tt.offset))
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMaps() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMapsAtChannelMajor(t *testing.T) {
	m := EmptyMaps(16)
	m.Set(3, 5, Cell{Conf: 0.9, Width: 0.2, Height: 0.3, OffsetX: 0.4, OffsetY: 0.6})

	i := 3*16 + 5
	if m.Size[i] != 0.2 || m.Size[256+i] != 0.3 {
		t.Errorf("size map not channel-major: %v %v", m.Size[i], m.Size[256+i])
	}
	if m.Offset[i] != 0.4 || m.Offset[256+i] != 0.6 {
		t.Errorf("offset map not channel-major: %v %v", m.Offset[i], m.Offset[256+i])
	}

	c := m.At(3, 5)
	if c.Conf != 0.9 || c.Width != 0.2 || c.Height != 0.3 || c.OffsetX != 0.4 || c.OffsetY != 0.6 {
		t.Errorf("At returned %+v", c)
	}
}
