package chart

import (
	"errors"
	"testing"
)

func TestParseDate(t *testing.T) {
	cases := []struct {
		in      string
		want    BirthDate
		wantErr error
	}{
		{"15/08/1990", BirthDate{15, 8, 1990}, nil},
		{"1/2/2000", BirthDate{1, 2, 2000}, nil},
		{" 29/02/2000 ", BirthDate{29, 2, 2000}, nil},
		{"31/12/2100", BirthDate{31, 12, 2100}, nil},
		{"01/01/1900", BirthDate{1, 1, 1900}, nil},
		{"32/01/2000", BirthDate{}, ErrOutOfRange},
		{"00/01/2000", BirthDate{}, ErrOutOfRange},
		{"15/13/1990", BirthDate{}, ErrOutOfRange},
		{"15/08/1899", BirthDate{}, ErrOutOfRange},
		{"15/08/2101", BirthDate{}, ErrOutOfRange},
		{"31/02/2000", BirthDate{}, ErrOutOfRange},
		{"29/02/1900", BirthDate{}, ErrOutOfRange},
		{"1990-08-15", BirthDate{}, ErrInvalidFormat},
		{"15/08/90", BirthDate{}, ErrInvalidFormat},
		{"15/08/1990 extra", BirthDate{}, ErrInvalidFormat},
		{"", BirthDate{}, ErrInvalidFormat},
		{"abc", BirthDate{}, ErrInvalidFormat},
	}
	for _, tc := range cases {
		got, err := ParseDate(tc.in)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ParseDate(%q) err = %v, want %v", tc.in, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDate(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestValidationErrorCarriesField(t *testing.T) {
	_, err := ParseDate("15/13/1990")
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.Field != "month" {
		t.Fatalf("expected month field, got %q", ve.Field)
	}
}

func TestSlotTokensRoundTrip(t *testing.T) {
	tokens := []string{"ty", "suu", "dan", "mao", "thin", "ty_hora", "ngo", "mui", "than", "dau", "tuat", "hoi", "unknown"}
	slots := Slots()
	if len(slots) != len(tokens) {
		t.Fatalf("expected %d slots, got %d", len(tokens), len(slots))
	}
	for i, tok := range tokens {
		s, err := ParseSlot(tok)
		if err != nil {
			t.Fatalf("ParseSlot(%q): %v", tok, err)
		}
		if s != slots[i] || s.Token() != tok {
			t.Fatalf("slot %q mismatch: %v", tok, s)
		}
		byLabel, err := ParseSlot(s.Label())
		if err != nil || byLabel != s {
			t.Fatalf("ParseSlot(label %q) = %v, %v", s.Label(), byLabel, err)
		}
	}
	if _, err := ParseSlot("noon"); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
}

func TestSlotFormHour(t *testing.T) {
	if SlotTy.FormHour() != "00" || SlotHoi.FormHour() != "22" {
		t.Fatalf("unexpected hours: %s %s", SlotTy.FormHour(), SlotHoi.FormHour())
	}
	if SlotUnknown.FormHour() != "12" {
		t.Fatalf("unknown slot should submit noon, got %s", SlotUnknown.FormHour())
	}
	if SlotTy.Display() != "Tý (23h-1h)" || SlotUnknown.Display() != "Không rõ" {
		t.Fatalf("unexpected display: %q %q", SlotTy.Display(), SlotUnknown.Display())
	}
}

func TestParseSex(t *testing.T) {
	if s, err := ParseSex("male"); err != nil || s != SexMale {
		t.Fatalf("male -> %v %v", s, err)
	}
	if s, err := ParseSex("Nữ"); err != nil || s != SexFemale {
		t.Fatalf("Nữ -> %v %v", s, err)
	}
	if _, err := ParseSex("other"); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
}

func TestFingerprintEquality(t *testing.T) {
	d, _ := ParseDate("15/08/1990")
	a, err := NewFingerprint(42, d, SlotNgo, SexMale)
	if err != nil {
		t.Fatalf("NewFingerprint: %v", err)
	}
	b, _ := NewFingerprint(42, d, SlotNgo, SexMale)
	if a != b {
		t.Fatalf("equal inputs should give equal fingerprints")
	}
	c, _ := NewFingerprint(42, d, SlotMui, SexMale)
	if a == c {
		t.Fatalf("different slot should differ")
	}
	if _, err := NewFingerprint(42, d, BirthSlot(99), SexMale); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected invalid slot error, got %v", err)
	}
}
