// Package browser declares the automation surface the chart acquirer drives.
package browser

import (
	"context"
	"time"
)

// Launcher opens isolated browser sessions. Every session is independent and
// must be closed by the caller.
type Launcher interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one isolated browser instance. Element ids refer to DOM ids.
// Lookups that find nothing return chart.ErrElementMissing; waits that run out
// return chart.ErrAutomationTimeout. Steps without a timeout argument are
// bounded by the implementation.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	SetValue(ctx context.Context, id, value string) error
	Check(ctx context.Context, id string) error
	Select(ctx context.Context, id, value string) error
	ClickXPath(ctx context.Context, xpath string) error
	Tabs(ctx context.Context) ([]string, error)
	WaitNewTab(ctx context.Context, known []string, timeout time.Duration) (string, error)
	SwitchTo(ctx context.Context, tabID string) error
	OuterHTML(ctx context.Context) ([]byte, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Rasterizer renders captured markup off-screen to a JPEG.
type Rasterizer interface {
	Rasterize(ctx context.Context, html []byte) ([]byte, error)
}
