package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		device  *Device
		wantErr error
	}{
		{"valid plug", testPlug("id", "aabbccddeeff"), nil},
		{"valid sensor", &Device{ID: "id", MAC: "00:11:22:33:44:55", Kind: KindSensor}, nil},
		{"nil", nil, ErrInvalidDevice},
		{"missing id", &Device{MAC: "aa", Kind: KindSensor}, ErrInvalidDevice},
		{"empty mac", &Device{ID: "id", Kind: KindSensor}, ErrInvalidMAC},
		{"bad mac", &Device{ID: "id", MAC: "aa bb", Kind: KindSensor}, ErrInvalidMAC},
		{"long mac", &Device{ID: "id", MAC: strings.Repeat("a", 65), Kind: KindSensor}, ErrInvalidMAC},
		{"bad kind", &Device{ID: "id", MAC: "aa", Kind: "meter"}, ErrInvalidKind},
		{"long name", &Device{ID: "id", MAC: "aa", Kind: KindSensor, Name: strings.Repeat("n", 101)}, ErrInvalidName},
		{"bad port", &Device{ID: "id", MAC: "aa", Kind: KindSensor, Port: 70000}, ErrInvalidPort},
		{"plug without address", &Device{ID: "id", MAC: "aa", Kind: KindPlug}, ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDevice(tt.device)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDevice() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == "" || a == b {
		t.Errorf("GenerateID() = %q, %q; want distinct non-empty IDs", a, b)
	}
}

func TestDeepCopy(t *testing.T) {
	var nilDevice *Device
	if nilDevice.DeepCopy() != nil {
		t.Error("DeepCopy(nil) != nil")
	}

	d := testPlug("id", "aa")
	now := d.CreatedAt
	d.LastSeen = &now
	cp := d.DeepCopy()
	*cp.LastSeen = cp.LastSeen.Add(1)
	if d.LastSeen.Equal(*cp.LastSeen) {
		t.Error("DeepCopy shares LastSeen")
	}
}
