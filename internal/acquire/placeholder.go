package acquire

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"
	"unicode"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mohammad-safakhou/tuvi/internal/chart"
)

const (
	placeholderWidth  = 800
	placeholderHeight = 600
	placeholderMargin = 20
	lineHeight        = 18
)

// renderPlaceholder draws the failure notice returned instead of a chart.
// basicfont only covers ASCII, so Vietnamese text is folded first.
func renderPlaceholder(fp chart.Fingerprint, reason error) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	msg := "unknown error"
	if reason != nil {
		msg = reason.Error()
	}
	lines := []string{
		"Khong the tao la so tu vi",
		"",
		"Thong so: ngay " + fp.Date().String() + ", gio " + fp.Slot.Display() + ", gioi tinh " + string(fp.Sex),
		"",
	}
	lines = append(lines, wrap("Loi: "+msg, (placeholderWidth-2*placeholderMargin)/7)...)
	lines = append(lines, "", "Vui long thu lai sau it phut.")

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	y := placeholderMargin + 13
	for _, line := range lines {
		if y > placeholderHeight-placeholderMargin {
			break
		}
		d.Dot = fixed.Point26_6{X: fixed.I(placeholderMargin), Y: fixed.I(y)}
		d.DrawString(asciiFold(line))
		y += lineHeight
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func asciiFold(s string) string {
	s = strings.NewReplacer("đ", "d", "Đ", "D").Replace(s)
	out, _, err := transform.String(foldDiacritics, s)
	if err != nil {
		out = s
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || (r < 0x20 && r != '\t') {
			return '?'
		}
		return r
	}, out)
}

func wrap(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(s) {
		for len([]rune(word)) > width {
			r := []rune(word)
			if cur.Len() > 0 {
				lines = append(lines, cur.String())
				cur.Reset()
			}
			lines = append(lines, string(r[:width]))
			word = string(r[width:])
		}
		if cur.Len() > 0 && len([]rune(cur.String()))+1+len([]rune(word)) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}
