package analysis

import (
	"fmt"
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mohammad-safakhou/tuvi/internal/chart"
)

var (
	plainPolicyOnce sync.Once
	plainPolicy     *bluemonday.Policy
)

// PlainText strips every HTML element from model output and returns the
// remaining text unescaped.
func PlainText(s string) string {
	plainPolicyOnce.Do(func() {
		plainPolicy = bluemonday.StrictPolicy()
	})
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(plainPolicy.Sanitize(s)))
}

func header(s Subject) string {
	return fmt.Sprintf("🔮 PHÂN TÍCH LÁ SỐ TỬ VI\n\n📅 Ngày sinh: %s\n🕰 Giờ sinh: %s\n⚧ Giới tính: %s", s.Date, s.Slot, s.Sex)
}

const footer = "✨ Phân tích này được thực hiện tự động dựa trên dữ liệu lá số của bạn."

// Format renders a result for delivery. Structured mode titles each section;
// free-text mode joins them into one block.
func Format(r Result, s Subject, mode Mode) string {
	var b strings.Builder
	b.WriteString(header(s))
	b.WriteString("\n\n")

	if r.Degraded() {
		if ov := PlainText(r[Overview]); ov != "" {
			b.WriteString(ov + "\n\n")
		}
		if raw := PlainText(r[RawKey]); raw != "" {
			b.WriteString(raw + "\n\n")
		} else {
			b.WriteString("⚠️ " + PlainText(r[ErrorKey]) + "\n\n")
		}
		b.WriteString(footer)
		return b.String()
	}

	for _, k := range r.Present() {
		text := PlainText(r[k])
		if text == "" {
			continue
		}
		if mode == ModeStructured {
			b.WriteString("■ " + strings.ToUpper(k.Title()) + "\n")
		}
		b.WriteString(text + "\n\n")
	}
	b.WriteString(footer)
	return b.String()
}

// FormatSection renders one section for drill-down.
func FormatSection(r Result, key SectionKey) (string, error) {
	text := PlainText(r[key])
	if text == "" {
		return "", fmt.Errorf("section %s: %w", key, chart.ErrNotFound)
	}
	return "■ " + strings.ToUpper(key.Title()) + "\n\n" + text, nil
}

// Chunk splits text into pieces of at most limit runes, breaking on line
// boundaries and splitting overlong lines. Only blank lines at chunk edges
// are dropped.
func Chunk(text string, limit int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var (
		chunks []string
		cur    []string
		curLen int
	)
	flush := func() {
		if c := strings.TrimRight(strings.Join(cur, "\n"), "\n"); c != "" {
			chunks = append(chunks, c)
		}
		cur, curLen = nil, 0
	}
	add := func(line string, n int) {
		if len(cur) > 0 && curLen+1+n > limit {
			flush()
		}
		if len(cur) == 0 {
			if line == "" {
				return
			}
			cur, curLen = []string{line}, n
			return
		}
		cur = append(cur, line)
		curLen += 1 + n
	}
	for _, line := range strings.Split(text, "\n") {
		r := []rune(line)
		for len(r) > limit {
			flush()
			chunks = append(chunks, string(r[:limit]))
			r = r[limit:]
		}
		add(string(r), len(r))
	}
	flush()
	return chunks
}
