package analysis

import "strings"

// SectionKey names one part of an analysis result.
type SectionKey string

const (
	Overview  SectionKey = "overview"
	Menh      SectionKey = "menh"
	HuynhDe   SectionKey = "huynh_de"
	PhuThe    SectionKey = "phu_the"
	TuTuc     SectionKey = "tu_tuc"
	TaiBach   SectionKey = "tai_bach"
	TatAch    SectionKey = "tat_ach"
	ThienDi   SectionKey = "thien_di"
	NoBoc     SectionKey = "no_boc"
	QuanLoc   SectionKey = "quan_loc"
	DienTrach SectionKey = "dien_trach"
	PhucDuc   SectionKey = "phuc_duc"
	PhuMau    SectionKey = "phu_mau"

	// Degradation keys.
	ErrorKey SectionKey = "error"
	RawKey   SectionKey = "raw"
)

// Sections is the closed set a model may fill, in display order.
var Sections = []SectionKey{
	Overview, Menh, HuynhDe, PhuThe, TuTuc, TaiBach, TatAch,
	ThienDi, NoBoc, QuanLoc, DienTrach, PhucDuc, PhuMau,
}

var sectionTitles = map[SectionKey]string{
	Overview:  "Tổng quan",
	Menh:      "Cung Mệnh",
	HuynhDe:   "Cung Huynh Đệ",
	PhuThe:    "Cung Phu Thê",
	TuTuc:     "Cung Tử Tức",
	TaiBach:   "Cung Tài Bạch",
	TatAch:    "Cung Tật Ách",
	ThienDi:   "Cung Thiên Di",
	NoBoc:     "Cung Nô Bộc",
	QuanLoc:   "Cung Quan Lộc",
	DienTrach: "Cung Điền Trạch",
	PhucDuc:   "Cung Phúc Đức",
	PhuMau:    "Cung Phụ Mẫu",
	ErrorKey:  "Lỗi",
	RawKey:    "Nội dung gốc",
}

func (k SectionKey) Title() string {
	if t, ok := sectionTitles[k]; ok {
		return t
	}
	return string(k)
}

// ParseSection accepts a section key in any case.
func ParseSection(s string) (SectionKey, bool) {
	k := SectionKey(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Sections {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Result maps section keys to text.
type Result map[SectionKey]string

// Degraded reports whether the result carries an error instead of sections.
func (r Result) Degraded() bool {
	_, ok := r[ErrorKey]
	return ok
}

// Present lists the filled sections in display order.
func (r Result) Present() []SectionKey {
	var out []SectionKey
	for _, k := range Sections {
		if strings.TrimSpace(r[k]) != "" {
			out = append(out, k)
		}
	}
	return out
}
