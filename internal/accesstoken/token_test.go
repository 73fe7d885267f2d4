package accesstoken

import (
	"testing"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantOK     bool
		wantNorm   string
		wantRole   store.Role
		wantRawLen int
	}{
		{"canonical staff", "ST-EDU-7K2P9Q", true, "ST-EDU-7K2P9Q", store.RoleStaff, 13},
		{"embedded in text", "Hello, my code is ST-EDU-7K2P9Q thanks", true, "ST-EDU-7K2P9Q", store.RoleStaff, 13},
		{"lowercase guardian underscores", "pa_edu_a1b2c3", true, "PA-EDU-A1B2C3", store.RoleGuardian, 13},
		{"mixed separators", "Pa-Edu_AB12-CD", true, "PA-EDU-AB12-CD", store.RoleGuardian, 14},
		{"trailing punctuation", "token: ST-EDU-ABCDEF.", true, "ST-EDU-ABCDEF", store.RoleStaff, 13},
		{"trailing underscore trimmed", "ST_EDU_ABCDEF_ ok", true, "ST-EDU-ABCDEF", store.RoleStaff, 13},
		{"suffix too short", "ST-EDU-ABC12", false, "", "", 0},
		{"short after trim", "ST_EDU_ABCDE_", false, "", "", 0},
		{"short candidate then valid", "ST_EDU_ABCDE_ then PA-EDU-A1B2C3", true, "PA-EDU-A1B2C3", store.RoleGuardian, 13},
		{"unknown prefix", "TX-EDU-7K2P9Q", false, "", "", 0},
		{"wrong namespace", "ST-SCH-7K2P9Q", false, "", "", 0},
		{"glued to word", "xST-EDU-7K2P9Q", false, "", "", 0},
		{"no token", "good morning", false, "", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v (got %+v)", tt.text, ok, tt.wantOK, got)
			}
			if !ok {
				return
			}
			if got.Normalized != tt.wantNorm {
				t.Errorf("normalized = %q, want %q", got.Normalized, tt.wantNorm)
			}
			if got.Role != tt.wantRole {
				t.Errorf("role = %q, want %q", got.Role, tt.wantRole)
			}
			if len(got.Raw) != tt.wantRawLen {
				t.Errorf("raw = %q, want length %d", got.Raw, tt.wantRawLen)
			}
		})
	}
}

func TestParseFirstTokenWins(t *testing.T) {
	got, ok := Parse("PA-EDU-111111 and ST-EDU-222222")
	if !ok || got.Normalized != "PA-EDU-111111" {
		t.Errorf("Parse = (%+v, %v), want first token", got, ok)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(" st_edu_7k2p9q "); got != "ST-EDU-7K2P9Q" {
		t.Errorf("Normalize = %q", got)
	}
}
