package chart

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	MinYear = 1900
	MaxYear = 2100
)

var dateRe = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)

// BirthDate is a calendar-valid solar date.
type BirthDate struct {
	Day   int
	Month int
	Year  int
}

// ParseDate parses strict DD/MM/YYYY text. A single-digit day or month is accepted.
func ParseDate(text string) (BirthDate, error) {
	text = strings.TrimSpace(text)
	m := dateRe.FindStringSubmatch(text)
	if m == nil {
		return BirthDate{}, ValidationError{Field: "date", Value: text, Err: ErrInvalidFormat}
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	return NewBirthDate(day, month, year)
}

// NewBirthDate validates each component and that the day exists in that month.
func NewBirthDate(day, month, year int) (BirthDate, error) {
	if day < 1 || day > 31 {
		return BirthDate{}, ValidationError{Field: "day", Value: strconv.Itoa(day), Err: ErrOutOfRange}
	}
	if month < 1 || month > 12 {
		return BirthDate{}, ValidationError{Field: "month", Value: strconv.Itoa(month), Err: ErrOutOfRange}
	}
	if year < MinYear || year > MaxYear {
		return BirthDate{}, ValidationError{Field: "year", Value: strconv.Itoa(year), Err: ErrOutOfRange}
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return BirthDate{}, ValidationError{Field: "day", Value: fmt.Sprintf("%02d/%02d/%04d", day, month, year), Err: ErrOutOfRange}
	}
	return BirthDate{Day: day, Month: month, Year: year}, nil
}

func (d BirthDate) String() string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, d.Month, d.Year)
}

// Fingerprint identifies a chart request. Two equal fingerprints always map to
// the same cached chart.
type Fingerprint struct {
	RequesterID int64
	Day         int
	Month       int
	Year        int
	Slot        BirthSlot
	Sex         Sex
}

// NewFingerprint builds a fingerprint from validated parts.
func NewFingerprint(requesterID int64, date BirthDate, slot BirthSlot, sex Sex) (Fingerprint, error) {
	if _, err := NewBirthDate(date.Day, date.Month, date.Year); err != nil {
		return Fingerprint{}, err
	}
	if !slot.valid() {
		return Fingerprint{}, ValidationError{Field: "birth_slot", Value: strconv.Itoa(int(slot)), Err: ErrInvalidSelection}
	}
	if sex.Token() == "" {
		return Fingerprint{}, ValidationError{Field: "sex", Value: string(sex), Err: ErrInvalidSelection}
	}
	return Fingerprint{
		RequesterID: requesterID,
		Day:         date.Day,
		Month:       date.Month,
		Year:        date.Year,
		Slot:        slot,
		Sex:         sex,
	}, nil
}

func (f Fingerprint) Date() BirthDate {
	return BirthDate{Day: f.Day, Month: f.Month, Year: f.Year}
}

// Describe renders the birth parameters as shown to the requester and the model.
func (f Fingerprint) Describe() string {
	return fmt.Sprintf("Ngày sinh: %s\nGiờ sinh: %s\nGiới tính: %s", f.Date(), f.Slot.Display(), f.Sex)
}
