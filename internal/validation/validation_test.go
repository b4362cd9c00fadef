package validation

import "testing"

func TestValidateTagName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"system tag", "SYS_WetWellLevel", false},
		{"pump tag", "P1_OutputFreq", false},
		{"numbers", "123", false},
		{"empty", "", true},
		{"hyphen", "P1-Mode", true},
		{"dot", "P1.Mode", true},
		{"space", "P1 Mode", true},
		{"quote", "P1'Mode", true},
		{"control char", "a\x00b", true},
		{"non ascii", "Füllstand", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTagName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTagName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateHostPort(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"0.0.0.0:8080", false},
		{":8080", false},
		{"plc.local:502", false},
		{"plc.local", true},
		{"plc.local:0", true},
		{"plc.local:70000", true},
		{"plc.local:http", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateHostPort(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateHostPort(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFraction(t *testing.T) {
	for _, f := range []float64{0, 0.2, 1} {
		if err := ValidateFraction(f); err != nil {
			t.Errorf("ValidateFraction(%v): %v", f, err)
		}
	}
	for _, f := range []float64{-0.1, 1.5} {
		if err := ValidateFraction(f); err == nil {
			t.Errorf("ValidateFraction(%v) should fail", f)
		}
	}
}
