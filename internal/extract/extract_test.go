package extract

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/tuvi/internal/chart"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestExtractJPEGDataURI(t *testing.T) {
	data := jpegBytes(t, 120, 80)
	page := `<html><body><div id="chart"><img src="data:image/jpeg;base64,` +
		base64.StdEncoding.EncodeToString(data) + `"></div></body></html>`

	img, err := Extract([]byte(page))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !bytes.Equal(img.Data, data) {
		t.Fatal("decoded bytes differ from source")
	}
	if img.Width != 120 || img.Height != 80 || img.MediaType != "image/jpeg" || img.Ext() != "jpg" {
		t.Fatalf("unexpected image: %dx%d %s", img.Width, img.Height, img.MediaType)
	}
	if img.Strategy != "regex" {
		t.Fatalf("expected regex strategy, got %s", img.Strategy)
	}
}

func TestExtractNoImage(t *testing.T) {
	_, err := Extract([]byte(`<html><body><p>Lá số đang được xử lý</p></body></html>`))
	if !errors.Is(err, chart.ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}

func TestExtractRejectsCorruptAndTinyPayloads(t *testing.T) {
	cases := map[string]string{
		"not base64":   `<img src="data:image/png;base64,@@@not-base64@@@">`,
		"not an image": `<img src="data:image/png;base64,` + base64.StdEncoding.EncodeToString([]byte("hello world")) + `">`,
		"truncated":    `<img src="data:image/jpeg;base64,` + base64.StdEncoding.EncodeToString(jpegBytes(t, 50, 50)[:40]) + `">`,
		"tiny":         `<img src="data:image/png;base64,` + base64.StdEncoding.EncodeToString(pngBytes(t, 5, 5)) + `">`,
	}
	for name, page := range cases {
		if _, err := Extract([]byte(page)); !errors.Is(err, chart.ErrNoImage) {
			t.Fatalf("%s: expected ErrNoImage, got %v", name, err)
		}
	}
}

func TestExtractSkipsInvalidCandidates(t *testing.T) {
	good := pngBytes(t, 30, 20)
	page := `<img src="data:image/png;base64,` + base64.StdEncoding.EncodeToString(pngBytes(t, 4, 4)) + `">` +
		`<img src="data:image/png;base64,` + base64.StdEncoding.EncodeToString(good) + `">`
	img, err := Extract([]byte(page))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if img.Width != 30 || img.MediaType != "image/png" || img.Ext() != "png" {
		t.Fatalf("expected second image, got %dx%d %s", img.Width, img.Height, img.MediaType)
	}
}

func TestExtractFallsBackToMarkup(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString(jpegBytes(t, 40, 40))
	// entity-encoded line breaks defeat the raw scan but not the parsed attribute
	wrapped := enc[:20] + "&#10;" + enc[20:]
	page := `<html><body><img src="data:image/jpeg;base64,` + wrapped + `"></body></html>`

	img, err := Extract([]byte(page))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if img.Strategy != "markup" {
		t.Fatalf("expected markup strategy, got %s", img.Strategy)
	}
}

func TestExtractUnpaddedBase64(t *testing.T) {
	enc := strings.TrimRight(base64.StdEncoding.EncodeToString(pngBytes(t, 11, 12)), "=")
	img, err := DataURI{}.Extract([]byte(`<img src='data:image/png;base64,` + enc + `'>`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if img.Height != 12 {
		t.Fatalf("unexpected height %d", img.Height)
	}
}

func TestDecodePayload(t *testing.T) {
	raw := pngBytes(t, 12, 12)
	enc := base64.StdEncoding.EncodeToString(raw)

	cases := []struct {
		name  string
		in    string
		media string
	}{
		{"bare", enc, ""},
		{"wrapped", enc[:20] + "\n" + enc[20:] + "\n", ""},
		{"data uri", "data:image/png;base64," + enc, "image/png"},
		{"data uri with params", "data:image/png;name=chart.png;base64," + enc, "image/png"},
	}
	for _, tc := range cases {
		media, data, err := DecodePayload(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if media != tc.media || !bytes.Equal(data, raw) {
			t.Fatalf("%s: media=%q len=%d", tc.name, media, len(data))
		}
	}
	if _, _, err := DecodePayload("assets/42_1.jpg"); err == nil {
		t.Fatal("a file path must not decode")
	}
}

func TestMediaTypeOf(t *testing.T) {
	if m, ok := MediaTypeOf(jpegBytes(t, 12, 12)); !ok || m != "image/jpeg" {
		t.Fatalf("jpeg: %q %v", m, ok)
	}
	if m, ok := MediaTypeOf(pngBytes(t, 12, 12)); !ok || m != "image/png" {
		t.Fatalf("png: %q %v", m, ok)
	}
	if _, ok := MediaTypeOf([]byte("<html></html>")); ok {
		t.Fatal("markup is not an image")
	}
}
