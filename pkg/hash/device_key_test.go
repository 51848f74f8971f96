package hash

import (
	"strings"
	"testing"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "enrollment key", key: "dk_8f14e45fceea167a5a36dedd4bea2543"},
		{name: "minimum length key", key: "0123456789abcdef"},
		{name: "key too short", key: "short-key", wantErr: true},
		{name: "empty key", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashed, err := Hash(tt.key)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Hash() expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Hash() unexpected error = %v", err)
			}

			if !strings.HasPrefix(hashed, "$2a$12$") {
				t.Errorf("Hash() invalid bcrypt format, got = %s", hashed[:10])
			}
			if err := Compare(hashed, tt.key); err != nil {
				t.Errorf("Compare() with plain key error = %v", err)
			}
		})
	}
}

func TestCompareRejectsOtherKeys(t *testing.T) {
	key := "dk_0cc175b9c0f1b6a831c399e269772661"
	hashed, err := Hash(key)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	for _, candidate := range []string{"", strings.ToUpper(key), key + "x", "dk_92eb5ffee6ae2fec3ad71c777531578f"} {
		if err := Compare(hashed, candidate); err == nil {
			t.Errorf("Compare() accepted %q", candidate)
		}
	}
}
