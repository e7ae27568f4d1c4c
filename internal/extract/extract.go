// Package extract pulls the chart image out of a captured result page.
package extract

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	_ "golang.org/x/image/webp"

	"github.com/mohammad-safakhou/tuvi/internal/chart"
)

// MinDimension is the smallest accepted width and height in pixels.
const MinDimension = 10

var dataURIRe = regexp.MustCompile(`data:(image/[^;]+);base64,([^"']+)`)

// Image is a validated, decoded image found in a page.
type Image struct {
	Data      []byte
	MediaType string
	Width     int
	Height    int
	Strategy  string
}

// Ext is the file extension matching the decoded format.
func (i Image) Ext() string {
	switch i.MediaType {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	}
	return "jpg"
}

type candidate struct {
	strategy string
	payload  string
}

// Extractor finds the chart image in raw markup.
type Extractor interface {
	Extract(page []byte) (Image, error)
}

// DataURI is the default Extractor: a regex scan of the raw markup, then a
// parsed walk over <img src> attributes. The first candidate that decodes to
// a real image of at least MinDimension square wins.
type DataURI struct{}

func (DataURI) Extract(page []byte) (Image, error) { return Extract(page) }

// Extract runs both strategies in order. It returns chart.ErrNoImage wrapping
// the last rejection reason when nothing qualifies.
func Extract(page []byte) (Image, error) {
	var lastErr error
	try := func(cands []candidate) (Image, bool) {
		for _, c := range cands {
			img, err := decodeCandidate(c)
			if err != nil {
				lastErr = err
				continue
			}
			return img, true
		}
		return Image{}, false
	}

	if img, ok := try(regexCandidates(page)); ok {
		return img, nil
	}
	cands, err := markupCandidates(page)
	if err != nil {
		lastErr = err
	}
	if img, ok := try(cands); ok {
		return img, nil
	}
	if lastErr == nil {
		return Image{}, chart.ErrNoImage
	}
	return Image{}, fmt.Errorf("%w: %v", chart.ErrNoImage, lastErr)
}

func regexCandidates(page []byte) []candidate {
	var out []candidate
	for _, m := range dataURIRe.FindAllSubmatch(page, -1) {
		out = append(out, candidate{strategy: "regex", payload: string(m[2])})
	}
	return out
}

func markupCandidates(page []byte) ([]candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	var out []candidate
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		src = strings.TrimSpace(src)
		if !strings.HasPrefix(src, "data:image/") {
			return
		}
		idx := strings.Index(src, ";base64,")
		if idx < 0 {
			return
		}
		out = append(out, candidate{strategy: "markup", payload: src[idx+len(";base64,"):]})
	})
	return out, nil
}

func decodeCandidate(c candidate) (Image, error) {
	data, err := decodeBase64(c.payload)
	if err != nil {
		return Image{}, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() < MinDimension || b.Dy() < MinDimension {
		return Image{}, fmt.Errorf("image too small: %dx%d", b.Dx(), b.Dy())
	}
	return Image{
		Data:      data,
		MediaType: "image/" + format,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Strategy:  c.strategy,
	}, nil
}

func decodeBase64(payload string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)
	if clean == "" {
		return nil, errors.New("empty payload")
	}
	if data, err := base64.StdEncoding.DecodeString(clean); err == nil {
		return data, nil
	}
	data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "="))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

// DecodePayload decodes a stored image payload, either bare base64 or a data
// URI. mediaType is the type named by a data URI header, if any.
func DecodePayload(s string) (mediaType string, data []byte, err error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); i >= 0 {
		if head := s[:i]; strings.HasPrefix(head, "data:") {
			mediaType, _, _ = strings.Cut(strings.TrimPrefix(head, "data:"), ";")
		}
		s = s[i+len(";base64,"):]
	}
	data, err = decodeBase64(s)
	return mediaType, data, err
}

// MediaTypeOf reports the image type of data when it is a decodable image.
func MediaTypeOf(data []byte) (string, bool) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	return "image/" + format, true
}
