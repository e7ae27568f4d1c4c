package chart

import "strings"

// BirthSlot is one of the twelve two-hour periods of the day, or SlotUnknown.
type BirthSlot int

const (
	SlotTy BirthSlot = iota
	SlotSuu
	SlotDan
	SlotMao
	SlotThin
	SlotTyHora
	SlotNgo
	SlotMui
	SlotThan
	SlotDau
	SlotTuat
	SlotHoi
	SlotUnknown
)

type slotInfo struct {
	token string
	label string
	span  string
	hour  string
}

var slotTable = [...]slotInfo{
	SlotTy:      {"ty", "Tý", "23h-1h", "00"},
	SlotSuu:     {"suu", "Sửu", "1h-3h", "02"},
	SlotDan:     {"dan", "Dần", "3h-5h", "04"},
	SlotMao:     {"mao", "Mão", "5h-7h", "06"},
	SlotThin:    {"thin", "Thìn", "7h-9h", "08"},
	SlotTyHora:  {"ty_hora", "Tỵ", "9h-11h", "10"},
	SlotNgo:     {"ngo", "Ngọ", "11h-13h", "12"},
	SlotMui:     {"mui", "Mùi", "13h-15h", "14"},
	SlotThan:    {"than", "Thân", "15h-17h", "16"},
	SlotDau:     {"dau", "Dậu", "17h-19h", "18"},
	SlotTuat:    {"tuat", "Tuất", "19h-21h", "20"},
	SlotHoi:     {"hoi", "Hợi", "21h-23h", "22"},
	SlotUnknown: {"unknown", "Không rõ", "", "12"},
}

// Slots lists every slot in display order.
func Slots() []BirthSlot {
	out := make([]BirthSlot, 0, len(slotTable))
	for i := range slotTable {
		out = append(out, BirthSlot(i))
	}
	return out
}

func (s BirthSlot) valid() bool { return s >= SlotTy && s <= SlotUnknown }

// Token is the callback token used by chat transports.
func (s BirthSlot) Token() string {
	if !s.valid() {
		return ""
	}
	return slotTable[s].token
}

// Label is the Vietnamese name persisted in the birth_time column.
func (s BirthSlot) Label() string {
	if !s.valid() {
		return ""
	}
	return slotTable[s].label
}

// Span is the clock range covered by the slot, empty for SlotUnknown.
func (s BirthSlot) Span() string {
	if !s.valid() {
		return ""
	}
	return slotTable[s].span
}

// FormHour is the value selected in the site's hour control.
// An unknown birth time is submitted as noon.
func (s BirthSlot) FormHour() string {
	if !s.valid() {
		return ""
	}
	return slotTable[s].hour
}

// Display renders the slot for buttons and captions, e.g. "Tý (23h-1h)".
func (s BirthSlot) Display() string {
	if s.Span() == "" {
		return s.Label()
	}
	return s.Label() + " (" + s.Span() + ")"
}

func (s BirthSlot) String() string { return s.Label() }

// ParseSlot accepts either the callback token or the Vietnamese label.
func ParseSlot(v string) (BirthSlot, error) {
	v = strings.TrimSpace(v)
	for i, info := range slotTable {
		if v == info.token || v == info.label {
			return BirthSlot(i), nil
		}
	}
	return 0, ValidationError{Field: "birth_slot", Value: v, Err: ErrInvalidSelection}
}

// Sex is the requester's declared sex as the site expects it.
type Sex string

const (
	SexMale   Sex = "Nam"
	SexFemale Sex = "Nữ"
)

// Token is the callback token used by chat transports.
func (s Sex) Token() string {
	switch s {
	case SexMale:
		return "male"
	case SexFemale:
		return "female"
	}
	return ""
}

// ParseSex accepts "male"/"female" or the Vietnamese labels.
func ParseSex(v string) (Sex, error) {
	switch strings.TrimSpace(v) {
	case "male", string(SexMale):
		return SexMale, nil
	case "female", string(SexFemale):
		return SexFemale, nil
	}
	return "", ValidationError{Field: "sex", Value: v, Err: ErrInvalidSelection}
}
