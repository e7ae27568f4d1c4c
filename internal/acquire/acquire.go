// Package acquire produces chart artifacts, from the cache when possible and
// otherwise by driving the chart site in a fresh browser session.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/tuvi/config"
	"github.com/mohammad-safakhou/tuvi/internal/assets"
	"github.com/mohammad-safakhou/tuvi/internal/browser"
	"github.com/mohammad-safakhou/tuvi/internal/chart"
	"github.com/mohammad-safakhou/tuvi/internal/extract"
	"github.com/mohammad-safakhou/tuvi/internal/logging"
	"github.com/mohammad-safakhou/tuvi/internal/metrics"
)

// Stage is a step of one acquisition.
type Stage int

const (
	StageStart Stage = iota
	StageFormFilled
	StageSubmitted
	StageResultCaptured
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageFormFilled:
		return "form_filled"
	case StageSubmitted:
		return "submitted"
	case StageResultCaptured:
		return "result_captured"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	}
	return "stage(" + strconv.Itoa(int(s)) + ")"
}

// Outcome tags how the artifact in a Result was obtained.
type Outcome int

const (
	// OK: an image artifact, fresh or cached.
	OK Outcome = iota
	// ExtractionFailed: the result page was captured but held no valid image;
	// the artifact is the raw page.
	ExtractionFailed
	// AutomationFailed: the site could not be driven; the artifact is a
	// placeholder image that was not cached.
	AutomationFailed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case ExtractionFailed:
		return "extraction_failed"
	case AutomationFailed:
		return "automation_failed"
	}
	return "unknown"
}

// Result of Acquire. Artifact is always deliverable.
type Result struct {
	Artifact chart.Artifact
	Cached   bool
	Outcome  Outcome
	Stage    Stage
	Reason   error
}

// Progress is a checkpoint report. It carries no control-flow meaning.
type Progress struct {
	Percent int
	Text    string
}

type ProgressFunc func(Progress)

// Cache is the chart cache as seen by the acquirer.
type Cache interface {
	Lookup(ctx context.Context, fp chart.Fingerprint) (chart.Artifact, bool)
	Store(ctx context.Context, a chart.Artifact) int64
}

// Form control ids on the chart site.
const (
	idName        = "txtHoTen"
	idMale        = "radNam"
	idFemale      = "radNu"
	idSolar       = "duong_lich"
	idYear        = "inam_duong"
	idMonth       = "ithang_duong"
	idDay         = "ingay_duong"
	idHour        = "gio_duong"
	idMinute      = "phut_duong"
	idViewYear    = "selNamXemD"
	idColorOutput = "radMau"
	idKeepResult  = "radluu"
	idNoTZWarning = "canhbao_no"
	idConsent     = "iconfirm1"
	submitXPath   = "//input[@value='An sao Tử Vi']"
)

const screenshotTimeout = 5 * time.Second

type Acquirer struct {
	Launcher  browser.Launcher
	Extractor extract.Extractor
	Cache     Cache
	Dir       *assets.Dir
	Site      config.ChartSiteConfig
	Logger    *zap.Logger

	now func() time.Time
}

func New(l browser.Launcher, c Cache, dir *assets.Dir, site config.ChartSiteConfig, logger *zap.Logger) *Acquirer {
	return &Acquirer{
		Launcher:  l,
		Extractor: extract.DataURI{},
		Cache:     c,
		Dir:       dir,
		Site:      site,
		Logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

// Acquire returns the chart for fp. It never fails outright: automation
// problems, including a run that outlives Site.AcquireTimeout, produce a
// placeholder artifact with Outcome AutomationFailed.
func (a *Acquirer) Acquire(ctx context.Context, fp chart.Fingerprint, progress ProgressFunc) Result {
	if progress == nil {
		progress = func(Progress) {}
	}
	ctx = logging.WithFields(ctx, zap.Int64("requester_id", fp.RequesterID), zap.String("date", fp.Date().String()))
	log := logging.FromContext(ctx, a.Logger)
	started := time.Now()

	if a.Cache != nil {
		if art, ok := a.Cache.Lookup(ctx, fp); ok {
			log.Info("chart served from cache", zap.Int64("chart_id", art.ID))
			progress(Progress{100, "Đã tìm thấy lá số đã tạo trước đó."})
			metrics.AcquisitionSeconds.WithLabelValues("cached").Observe(time.Since(started).Seconds())
			return Result{Artifact: art, Cached: true, Outcome: OK, Stage: StageDone}
		}
	}

	rctx, cancel := ctx, context.CancelFunc(func() {})
	if a.Site.AcquireTimeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, a.Site.AcquireTimeout)
	}
	res := a.run(rctx, fp, progress, log)
	cancel()
	metrics.AcquisitionSeconds.WithLabelValues(res.Outcome.String()).Observe(time.Since(started).Seconds())
	return res
}

func (a *Acquirer) run(ctx context.Context, fp chart.Fingerprint, progress ProgressFunc, log *zap.Logger) Result {
	stage := StageStart
	progress(Progress{10, "Đang kết nối tới trang lập lá số..."})

	sess, err := a.Launcher.Open(ctx)
	if err != nil {
		return a.fail(ctx, fp, stage, fmt.Errorf("open browser: %w", err), nil, log)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Debug("browser close", zap.Error(err))
		}
	}()

	if err := sess.Navigate(ctx, a.Site.URL, a.Site.NavigateTimeout); err != nil {
		return a.fail(ctx, fp, stage, err, sess, log)
	}
	if err := sess.WaitVisible(ctx, "#"+idName, a.Site.LoadTimeout); err != nil {
		return a.fail(ctx, fp, stage, err, sess, log)
	}

	if err := a.fillForm(ctx, sess, fp); err != nil {
		return a.fail(ctx, fp, stage, err, sess, log)
	}
	stage = StageFormFilled
	progress(Progress{30, "Đã điền thông tin, đang gửi yêu cầu..."})

	known, err := sess.Tabs(ctx)
	if err != nil {
		return a.fail(ctx, fp, stage, err, sess, log)
	}
	if err := sess.ClickXPath(ctx, submitXPath); err != nil {
		return a.fail(ctx, fp, stage, err, sess, log)
	}
	tab, err := sess.WaitNewTab(ctx, known, a.Site.SubmitTimeout)
	if err != nil {
		return a.fail(ctx, fp, stage, err, sess, log)
	}
	stage = StageSubmitted
	progress(Progress{50, "Đang chờ trang kết quả..."})

	if err := sess.SwitchTo(ctx, tab); err != nil {
		return a.fail(ctx, fp, stage, err, sess, log)
	}
	if err := sess.WaitVisible(ctx, "body", a.Site.ResultTimeout); err != nil {
		return a.fail(ctx, fp, stage, err, sess, log)
	}
	progress(Progress{70, "Đã mở trang kết quả, đang lấy lá số..."})
	page, err := sess.OuterHTML(ctx)
	if err != nil {
		return a.fail(ctx, fp, stage, err, sess, log)
	}
	stage = StageResultCaptured
	progress(Progress{80, "Đang xử lý hình ảnh lá số..."})

	art, outcome, reason, err := a.materialize(fp, page)
	if err != nil {
		return a.fail(ctx, fp, stage, err, sess, log)
	}
	progress(Progress{90, "Đang lưu lá số..."})
	if a.Cache != nil {
		art.ID = a.Cache.Store(ctx, art)
	}
	metrics.ChartsCreated.Inc()
	if outcome == ExtractionFailed {
		metrics.Errors.WithLabelValues("extract").Inc()
		log.Warn("no chart image in result page, keeping raw page", zap.Error(reason), zap.String("path", art.Path))
	} else {
		log.Info("chart acquired", zap.Int64("chart_id", art.ID), zap.String("path", art.Path))
	}
	progress(Progress{100, "Hoàn tất!"})
	return Result{Artifact: art, Outcome: outcome, Stage: StageDone, Reason: reason}
}

func (a *Acquirer) fillForm(ctx context.Context, sess browser.Session, fp chart.Fingerprint) error {
	sexID := idMale
	if fp.Sex == chart.SexFemale {
		sexID = idFemale
	}
	steps := []func() error{
		func() error { return sess.SetValue(ctx, idName, a.Site.RequesterName) },
		func() error { return sess.Check(ctx, sexID) },
		func() error { return sess.Check(ctx, idSolar) },
		func() error { return sess.Select(ctx, idYear, strconv.Itoa(fp.Year)) },
		func() error { return sess.Select(ctx, idMonth, fmt.Sprintf("%02d", fp.Month)) },
		func() error { return sess.Select(ctx, idDay, fmt.Sprintf("%02d", fp.Day)) },
		func() error { return sess.Select(ctx, idHour, fp.Slot.FormHour()) },
		func() error { return sess.Select(ctx, idMinute, "00") },
		func() error { return sess.Select(ctx, idViewYear, strconv.Itoa(a.clock().Year())) },
		func() error { return sess.Check(ctx, idColorOutput) },
		func() error { return sess.Check(ctx, idKeepResult) },
		func() error { return sess.Check(ctx, idNoTZWarning) },
		func() error { return sess.Check(ctx, idConsent) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// materialize writes the extracted image, or the raw page when extraction
// finds nothing. Nothing is written for a page that fails validation.
func (a *Acquirer) materialize(fp chart.Fingerprint, page []byte) (chart.Artifact, Outcome, error, error) {
	img, xerr := a.Extractor.Extract(page)
	if xerr == nil {
		p, err := a.Dir.Write(fp.RequesterID, img.Ext(), img.Data)
		if err != nil {
			return chart.Artifact{}, OK, nil, fmt.Errorf("save chart image: %w", err)
		}
		return chart.Artifact{Fingerprint: fp, Form: chart.FormImage, Path: p, MediaType: img.MediaType, CreatedAt: a.clock()}, OK, nil, nil
	}
	if !errors.Is(xerr, chart.ErrNoImage) {
		return chart.Artifact{}, OK, nil, xerr
	}
	p, err := a.Dir.Write(fp.RequesterID, "html", page)
	if err != nil {
		return chart.Artifact{}, OK, nil, fmt.Errorf("save result page: %w", err)
	}
	return chart.Artifact{Fingerprint: fp, Form: chart.FormRawPage, Path: p, MediaType: "text/html", CreatedAt: a.clock()}, ExtractionFailed, xerr, nil
}

// fail takes a best-effort diagnostic screenshot and returns a placeholder.
// A run that hit its deadline is reported as chart.ErrAutomationTimeout.
func (a *Acquirer) fail(ctx context.Context, fp chart.Fingerprint, stage Stage, reason error, sess browser.Session, log *zap.Logger) Result {
	if errors.Is(reason, context.DeadlineExceeded) && !errors.Is(reason, chart.ErrAutomationTimeout) {
		reason = fmt.Errorf("%w: %v", chart.ErrAutomationTimeout, reason)
	}
	metrics.Errors.WithLabelValues("acquire").Inc()
	log.Error("chart acquisition failed", zap.Stringer("stage", stage), zap.Error(reason))

	if sess != nil {
		// the run context may already be over
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
		shot, err := sess.Screenshot(sctx)
		cancel()
		if err == nil && len(shot) > 0 {
			if p, err := a.Dir.Write(fp.RequesterID, "diag.jpg", shot); err == nil {
				log.Info("diagnostic screenshot saved", zap.String("path", p))
			}
		}
	}

	res := Result{Outcome: AutomationFailed, Stage: StageFailed, Reason: reason}
	data, err := renderPlaceholder(fp, reason)
	if err != nil {
		log.Error("render placeholder", zap.Error(err))
		return res
	}
	p, err := a.Dir.Write(fp.RequesterID, "jpg", data)
	if err != nil {
		log.Error("save placeholder", zap.Error(err))
		return res
	}
	res.Artifact = chart.Artifact{Fingerprint: fp, Form: chart.FormImage, Path: p, MediaType: "image/jpeg", CreatedAt: a.clock()}
	return res
}

func (a *Acquirer) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}
