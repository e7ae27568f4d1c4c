package chromedp

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Rasterizer renders markup in a throwaway browser and screenshots it.
type Rasterizer struct {
	Launcher *Launcher
	Timeout  time.Duration
}

func NewRasterizer(l *Launcher, timeout time.Duration) *Rasterizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Rasterizer{Launcher: l, Timeout: timeout}
}

// Rasterize loads html into a blank page and returns a full-page JPEG.
func (r *Rasterizer) Rasterize(ctx context.Context, html []byte) ([]byte, error) {
	s, err := r.Launcher.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	sctx, cancel := s.scoped(ctx, r.Timeout)
	defer cancel()

	var buf []byte
	err = chromedp.Run(sctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, string(html)).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.FullScreenshot(&buf, screenshotQuality),
	)
	if err != nil {
		return nil, wrapTimeout(err, "rasterize page")
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("rasterize page: empty screenshot")
	}
	return buf, nil
}
