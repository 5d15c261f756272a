package utils

import (
	"testing"
	"time"
)

func TestParseDateFlag(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *time.Time
		wantErr bool
	}{
		{name: "empty clears the date", input: ""},
		{
			name:  "valid date",
			input: "2026-01-31",
			want:  ptrTime(time.Date(2026, 1, 31, 0, 0, 0, 0, time.Local)),
		},
		{name: "wrong separator", input: "2026/01/31", wantErr: true},
		{name: "impossible date", input: "2026-02-30", wantErr: true},
		{name: "text", input: "tomorrow", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDateFlag(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDateFlag(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("ParseDateFlag(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if got == nil || !got.Equal(*tt.want) {
				t.Errorf("ParseDateFlag(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseEstimateFlag(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		isNil   bool
		wantErr bool
	}{
		{input: "", isNil: true},
		{input: "45m", want: 45},
		{input: "2h", want: 120},
		{input: "1h30m", want: 90},
		{input: "90s", want: 2},
		{input: "-5m", wantErr: true},
		{input: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEstimateFlag(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEstimateFlag(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.isNil {
				if got != nil {
					t.Errorf("ParseEstimateFlag(%q) = %d, want nil", tt.input, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("ParseEstimateFlag(%q) = %v, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
