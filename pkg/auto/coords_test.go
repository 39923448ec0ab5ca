package auto

import "testing"

func TestScaleCoord(t *testing.T) {
	tests := []struct {
		value int
		scale float64
		want  int
	}{
		{100, 1, 100},
		{150, 1.5, 100},
		{151, 1.5, 101},
		{100, 0, 100},
		{100, -2, 100},
		{250, 1.25, 200},
	}
	for _, tt := range tests {
		if got := ScaleCoord(tt.value, tt.scale); got != tt.want {
			t.Errorf("ScaleCoord(%d, %.2f) = %d, 期望 %d", tt.value, tt.scale, got, tt.want)
		}
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		name            string
		physical, input int
		want            float64
	}{
		{"相同尺寸", 1920, 1920, 1},
		{"150% 缩放", 3840, 2560, 1.5},
		{"输入为零", 1920, 0, 1},
		{"离谱比例", 1920, 100, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ratio(tt.physical, tt.input); got != tt.want {
				t.Errorf("ratio = %.3f, 期望 %.3f", got, tt.want)
			}
		})
	}
}

func TestScaleIntRoundTrip(t *testing.T) {
	tests := []struct {
		value int
		scale float64
		want  int
	}{
		{100, 1, 100},
		{100, 1.5, 150},
		{101, 1.5, 152},
		{100, 0, 100},
		{200, 1.25, 250},
	}
	for _, tt := range tests {
		got := ScaleInt(tt.value, tt.scale)
		if got != tt.want {
			t.Errorf("ScaleInt(%d, %.2f) = %d, 期望 %d", tt.value, tt.scale, got, tt.want)
		}
		if tt.scale > 0 && ScaleCoord(got, tt.scale) != tt.value {
			t.Errorf("ScaleCoord(ScaleInt(%d)) 未还原", tt.value)
		}
	}
}
