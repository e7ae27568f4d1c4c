package chromedp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/tuvi/config"
	"github.com/mohammad-safakhou/tuvi/internal/browser"
	"github.com/mohammad-safakhou/tuvi/internal/chart"
)

const screenshotQuality = 90

// Launcher starts one headless Chrome per session.
type Launcher struct {
	Cfg    config.BrowserConfig
	Logger *zap.Logger
}

func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{Cfg: cfg.Normalize(), Logger: logger}
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("block-new-web-contents", false),
		chromedp.WindowSize(l.Cfg.WindowWidth, l.Cfg.WindowHeight),
	)
	if l.Cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if l.Cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.Cfg.UserAgent))
	}
	if l.Cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.Cfg.ExecPath))
	}
	return opts
}

// Open launches the browser and its first tab.
func (l *Launcher) Open(ctx context.Context) (browser.Session, error) {
	return l.open(ctx)
}

func (l *Launcher) open(ctx context.Context) (*Session, error) {
	actx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	bctx, cancelBrowser := chromedp.NewContext(actx)

	if err := start(ctx, bctx, l.Cfg.StepTimeout); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, wrapTimeout(err, "start browser")
	}

	s := &Session{
		root:    bctx,
		cur:     bctx,
		step:    l.Cfg.StepTimeout,
		cancels: []context.CancelFunc{cancelBrowser, cancelAlloc},
		logger:  l.Logger,
	}
	if c := chromedp.FromContext(bctx); c != nil && c.Target != nil {
		s.curID = string(c.Target.TargetID)
	}
	return s, nil
}

// Session drives one Chrome instance. Methods are not safe for concurrent use.
type Session struct {
	root    context.Context
	cur     context.Context
	curID   string
	step    time.Duration
	cancels []context.CancelFunc
	logger  *zap.Logger

	closeOnce sync.Once
}

// scoped derives a context from the current tab that also ends with ctx and
// after timeout. A zero timeout falls back to the session step timeout.
func (s *Session) scoped(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = s.step
	}
	var (
		sctx   context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		sctx, cancel = context.WithTimeout(s.cur, timeout)
	} else {
		sctx, cancel = context.WithCancel(s.cur)
	}
	stop := context.AfterFunc(ctx, cancel)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		sctx, cancelDL = context.WithDeadline(sctx, dl)
		prev := cancel
		cancel = func() { cancelDL(); prev() }
	}
	return sctx, func() { stop(); cancel() }
}

// Navigate loads url and waits for the load event, at most timeout.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	sctx, cancel := s.scoped(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(sctx, chromedp.Navigate(url)); err != nil {
		return wrapTimeout(err, "navigate "+url)
	}
	return nil
}

func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	sctx, cancel := s.scoped(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(sctx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return wrapTimeout(err, "wait for "+selector)
	}
	return nil
}

// evalBool runs a script that returns true on success and false when the
// target element does not exist.
func (s *Session) evalBool(ctx context.Context, script, what string) error {
	sctx, cancel := s.scoped(ctx, 0)
	defer cancel()
	var ok bool
	if err := chromedp.Run(sctx, chromedp.Evaluate(script, &ok)); err != nil {
		return wrapTimeout(err, what)
	}
	if !ok {
		return fmt.Errorf("%w: %s", chart.ErrElementMissing, what)
	}
	return nil
}

func (s *Session) SetValue(ctx context.Context, id, value string) error {
	script := fmt.Sprintf(`(function(id, v){
  var el = document.getElementById(id);
  if (!el) return false;
  el.value = v;
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;
})(%s, %s)`, jsString(id), jsString(value))
	return s.evalBool(ctx, script, "#"+id)
}

func (s *Session) Check(ctx context.Context, id string) error {
	script := fmt.Sprintf(`(function(id){
  var el = document.getElementById(id);
  if (!el) return false;
  if (!el.checked) el.click();
  if (!el.checked) { el.checked = true; el.dispatchEvent(new Event('change', {bubbles: true})); }
  return true;
})(%s)`, jsString(id))
	return s.evalBool(ctx, script, "#"+id)
}

func (s *Session) Select(ctx context.Context, id, value string) error {
	script := fmt.Sprintf(`(function(id, v){
  var el = document.getElementById(id);
  if (!el || !el.options) return false;
  var found = false;
  for (var i = 0; i < el.options.length; i++) {
    if (el.options[i].value === v) { found = true; break; }
  }
  if (!found) return false;
  el.value = v;
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;
})(%s, %s)`, jsString(id), jsString(value))
	return s.evalBool(ctx, script, fmt.Sprintf("#%s option %q", id, value))
}

// ClickXPath issues a real mouse click so pop-up blockers treat it as a user gesture.
func (s *Session) ClickXPath(ctx context.Context, xpath string) error {
	script := fmt.Sprintf(`document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue !== null`, jsString(xpath))
	if err := s.evalBool(ctx, script, xpath); err != nil {
		return err
	}
	sctx, cancel := s.scoped(ctx, 5*time.Second)
	defer cancel()
	if err := chromedp.Run(sctx, chromedp.Click(xpath, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return wrapTimeout(err, "click "+xpath)
	}
	return nil
}

// Tabs lists the ids of open page targets.
func (s *Session) Tabs(ctx context.Context) ([]string, error) {
	sctx, cancel := s.scoped(ctx, 0)
	defer cancel()
	infos, err := chromedp.Targets(sctx)
	if err != nil {
		return nil, wrapTimeout(err, "list tabs")
	}
	return pageIDs(infos), nil
}

func pageIDs(infos []*target.Info) []string {
	var out []string
	for _, info := range infos {
		if info.Type == "page" {
			out = append(out, string(info.TargetID))
		}
	}
	return out
}

// WaitNewTab polls until a page target not in known appears.
func (s *Session) WaitNewTab(ctx context.Context, known []string, timeout time.Duration) (string, error) {
	seen := make(map[string]struct{}, len(known))
	for _, id := range known {
		seen[id] = struct{}{}
	}
	sctx, cancel := s.scoped(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		infos, err := chromedp.Targets(sctx)
		if err != nil {
			return "", wrapTimeout(err, "wait for result tab")
		}
		ids := pageIDs(infos)
		if len(ids) > len(known) {
			for i := len(ids) - 1; i >= 0; i-- {
				if _, ok := seen[ids[i]]; !ok {
					return ids[i], nil
				}
			}
		}
		select {
		case <-sctx.Done():
			return "", wrapTimeout(sctx.Err(), "wait for result tab")
		case <-ticker.C:
		}
	}
}

// SwitchTo attaches to the tab; later calls act on it.
func (s *Session) SwitchTo(ctx context.Context, tabID string) error {
	if tabID == s.curID {
		return nil
	}
	tctx, cancel := chromedp.NewContext(s.root, chromedp.WithTargetID(target.ID(tabID)))
	s.cancels = append([]context.CancelFunc{cancel}, s.cancels...)
	if err := start(ctx, tctx, s.step); err != nil {
		return wrapTimeout(err, "attach tab")
	}
	s.cur = tctx
	s.curID = tabID
	return nil
}

// start performs the first Run on a chromedp context. That Run binds the
// browser or tab lifetime to its ctx, so it gets the long-lived context and
// the caller's ctx and timeout only bound how long we wait.
func start(ctx, cctx context.Context, timeout time.Duration) error {
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(cctx) }()
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case err := <-started:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return context.DeadlineExceeded
	}
}

func (s *Session) OuterHTML(ctx context.Context) ([]byte, error) {
	sctx, cancel := s.scoped(ctx, 0)
	defer cancel()
	var html string
	if err := chromedp.Run(sctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, wrapTimeout(err, "capture page")
	}
	return []byte(html), nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	sctx, cancel := s.scoped(ctx, 0)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(sctx, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return nil, wrapTimeout(err, "screenshot")
	}
	return buf, nil
}

// Close shuts Chrome down. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if cerr := chromedp.Cancel(s.root); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = cerr
			s.logger.Debug("browser close", zap.Error(cerr))
		}
		for _, cancel := range s.cancels {
			cancel()
		}
	})
	return err
}

func wrapTimeout(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", chart.ErrAutomationTimeout, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
