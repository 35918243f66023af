package api

import "testing"

func TestPositionAsByte(t *testing.T) {
	tests := []struct {
		name  string
		value int
		want  int
	}{
		{
			name:  "Open",
			value: 100,
			want:  0,
		},
		{
			name:  "Closed",
			value: 0,
			want:  255,
		},
		{
			name:  "Half",
			value: 50,
			want:  128,
		},
		{
			name:  "Too big",
			value: 140,
			want:  0,
		},
		{
			name:  "Too small",
			value: -3,
			want:  255,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PositionAsByte(tt.value)
			if got != tt.want {
				t.Errorf("PositionAsByte() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestByteAsPosition(t *testing.T) {
	tests := []struct {
		name  string
		value int
		want  int
	}{
		{
			name:  "Open",
			value: 0,
			want:  100,
		},
		{
			name:  "Closed",
			value: 255,
			want:  0,
		},
		{
			name:  "Some value",
			value: 51,
			want:  80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ByteAsPosition(tt.value)
			if got != tt.want {
				t.Errorf("ByteAsPosition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPositionRoundTrip(t *testing.T) {
	for p := 0; p <= 100; p++ {
		got := ByteAsPosition(PositionAsByte(p))
		if got < p-1 || got > p+1 {
			t.Errorf("ByteAsPosition(PositionAsByte(%d)) = %d, want %d±1", p, got, p)
		}
	}
}

func TestDecodeTemperature(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    float64
		wantErr bool
	}{
		{
			name:  "Positive",
			value: "215",
			want:  21.5,
		},
		{
			name:  "Negative",
			value: "-15",
			want:  -1.5,
		},
		{
			name:    "Garbage",
			value:   "21,5",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeTemperature(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeTemperature() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("DecodeTemperature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeTemperature(t *testing.T) {
	if got := EncodeTemperature(21.5); got != 215 {
		t.Errorf("EncodeTemperature(21.5) = %v, want 215", got)
	}
	if got := EncodeTemperature(19.04); got != 190 {
		t.Errorf("EncodeTemperature(19.04) = %v, want 190", got)
	}
}
