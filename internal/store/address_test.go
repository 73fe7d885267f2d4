package store

import (
	"reflect"
	"testing"
)

func TestBareAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2348012345678@s.whatsapp.net", "2348012345678"},
		{"2348012345678:12@s.whatsapp.net", "2348012345678"},
		{"120363041234567890@g.us", "120363041234567890"},
		{" 2348012345678 ", "2348012345678"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := BareAddress(tt.in); got != tt.want {
			t.Errorf("BareAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+234 801-234-5678", "2348012345678"},
		{"(234) 801.234.5678", "2348012345678"},
		{"2348012345678@s.whatsapp.net", "2348012345678"},
		{"2348012345678@c.us", "2348012345678"},
		{"abc", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGroupAddressForms(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"120363041234567890@g.us", []string{"120363041234567890@g.us", "120363041234567890"}},
		{"120363041234567890", []string{"120363041234567890", "120363041234567890@g.us"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		if got := GroupAddressForms(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("GroupAddressForms(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleStaff, RoleGuardian} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if Role("teacher").Valid() {
		t.Error("unknown role should be invalid")
	}
}
