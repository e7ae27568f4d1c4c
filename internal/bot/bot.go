// Package bot is the transport-independent core: it turns requester input
// into session transitions, chart acquisitions and analyses, and reports
// everything through a Notifier.
package bot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/tuvi/config"
	"github.com/mohammad-safakhou/tuvi/internal/acquire"
	"github.com/mohammad-safakhou/tuvi/internal/analysis"
	"github.com/mohammad-safakhou/tuvi/internal/assets"
	"github.com/mohammad-safakhou/tuvi/internal/browser"
	"github.com/mohammad-safakhou/tuvi/internal/cache"
	"github.com/mohammad-safakhou/tuvi/internal/chart"
	"github.com/mohammad-safakhou/tuvi/internal/logging"
	"github.com/mohammad-safakhou/tuvi/internal/metrics"
	"github.com/mohammad-safakhou/tuvi/internal/session"
	"github.com/mohammad-safakhou/tuvi/internal/store"
)

// Profile is the requester as the transport knows them.
type Profile struct {
	RequesterID int64
	FirstName   string
	LastName    string
	Username    string
}

type Acquirer interface {
	Acquire(ctx context.Context, fp chart.Fingerprint, progress acquire.ProgressFunc) acquire.Result
}

type Analyzer interface {
	Analyze(ctx context.Context, img []byte, mediaType string, s analysis.Subject) (analysis.Result, error)
	Mode() analysis.Mode
}

// History is the persisted side of the bot. Every method may fail when the
// store is down; the bot then degrades instead of failing the request.
type History interface {
	UpsertUser(ctx context.Context, u store.UserRecord) error
	CountUsers(ctx context.Context) (int, error)
	ListCharts(ctx context.Context, userID int64, limit int) ([]store.ChartRecord, error)
	CountCharts(ctx context.Context, userID int64) (int, error)
	GetChart(ctx context.Context, userID, id int64) (store.ChartRecord, bool, error)
	DeleteChart(ctx context.Context, userID, id int64) error
}

// Resolver turns stored rows into artifacts on disk.
type Resolver interface {
	Resolve(rec store.ChartRecord) (chart.Artifact, bool)
}

// Deps are the collaborators of a Bot. Rasterizer, Records, Charts and
// Results are optional.
type Deps struct {
	Sessions   *session.Registry
	Acquirer   Acquirer
	Analyzer   Analyzer
	Rasterizer browser.Rasterizer
	Records    History
	Charts     Resolver
	Results    cache.ResultCache
	Dir        *assets.Dir
}

type Bot struct {
	Deps
	general     config.GeneralConfig
	maxLen      int
	analysisTTL time.Duration
	logger      *zap.Logger
	startedAt   time.Time
}

const historyLimit = 5

func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Bot {
	b := &Bot{
		Deps:        deps,
		general:     cfg.General,
		maxLen:      cfg.Chat.MaxMessageLen,
		analysisTTL: cfg.LLM.CacheTTL,
		logger:      logging.OrNop(logger),
		startedAt:   time.Now(),
	}
	if b.maxLen <= 0 {
		b.maxLen = 4000
	}
	return b
}

// guard turns a panic in an entry point into an apology. The session is left
// in place so /cancel still works.
func (b *Bot) guard(n Notifier, requesterID int64, op string) {
	if r := recover(); r != nil {
		metrics.Errors.WithLabelValues("panic").Inc()
		b.logger.Error("handler panic",
			zap.String("op", op),
			zap.Int64("requester_id", requesterID),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()))
		n.Text(msgApology)
	}
}

// send splits text to the transport limit.
func (b *Bot) send(n Notifier, text string) {
	for _, c := range analysis.Chunk(text, b.maxLen) {
		n.Text(c)
	}
}

func (b *Bot) Start(ctx context.Context, n Notifier, p Profile) {
	defer b.guard(n, p.RequesterID, "start")

	if b.Records != nil {
		err := b.Records.UpsertUser(ctx, store.UserRecord{
			TelegramID: p.RequesterID,
			FirstName:  p.FirstName,
			LastName:   p.LastName,
			Username:   p.Username,
		})
		if err != nil {
			b.storeDown(ctx, "upsert user", p.RequesterID, err)
		}
	}
	if _, err := b.Sessions.Start(ctx, p.RequesterID); err != nil {
		if errors.Is(err, session.ErrAcquisitionInFlight) {
			n.Text(msgInFlight)
			return
		}
		metrics.Errors.WithLabelValues("session").Inc()
		b.log(ctx, p.RequesterID).Error("start session", zap.Error(err))
		n.Text(msgApology)
		return
	}
	n.Text(msgWelcome)
}

func (b *Bot) Cancel(ctx context.Context, n Notifier, requesterID int64) {
	defer b.guard(n, requesterID, "cancel")
	if s, ok := b.Sessions.Get(requesterID); ok {
		_ = s.Cancel()
		b.Sessions.Discard(s)
	}
	n.Text(msgCancelled)
}

func (b *Bot) Help(n Notifier) {
	n.Text(msgHelp)
}

func (b *Bot) Stats(ctx context.Context, n Notifier, requesterID int64) {
	defer b.guard(n, requesterID, "stats")
	if !b.general.IsAdmin(requesterID) {
		n.Text(msgForbidden)
		return
	}
	users := -1
	if b.Records != nil {
		if count, err := b.Records.CountUsers(ctx); err != nil {
			b.storeDown(ctx, "count users", requesterID, err)
		} else {
			users = count
		}
	}
	n.Text(statsText(metrics.Take(b.startedAt), b.Sessions.Len(), users))
}

func (b *Bot) History(ctx context.Context, n Notifier, requesterID int64) {
	defer b.guard(n, requesterID, "history")
	if b.Records == nil {
		n.Text(msgHistoryOff)
		return
	}
	recs, err := b.Records.ListCharts(ctx, requesterID, historyLimit)
	if err != nil {
		b.storeDown(ctx, "list charts", requesterID, err)
		n.Text(msgHistoryOff)
		return
	}
	if len(recs) == 0 {
		n.Text(msgNoChart)
		return
	}
	total, err := b.Records.CountCharts(ctx, requesterID)
	if err != nil {
		b.storeDown(ctx, "count charts", requesterID, err)
		total = len(recs)
	}
	b.send(n, historyText(recs, total))
}

// ViewChart shows a stored chart and makes it the session's current chart
// so it can be analysed.
func (b *Bot) ViewChart(ctx context.Context, n Notifier, requesterID, chartID int64) {
	defer b.guard(n, requesterID, "view_chart")
	a, ok := b.loadChart(ctx, n, requesterID, chartID)
	if !ok {
		return
	}
	data, media, display, err := b.displayable(ctx, a)
	if err != nil {
		b.log(ctx, requesterID).Warn("stored chart not displayable", zap.Int64("chart_id", chartID), zap.Error(err))
		n.Text(msgChartMissing)
		return
	}
	n.Artifact(data, media, chartCaption(a.Fingerprint, true))

	s, err := b.Sessions.Ensure(ctx, requesterID)
	if errors.Is(err, session.ErrAcquisitionInFlight) {
		n.Text(msgInFlight)
		return
	}
	if err != nil {
		b.log(ctx, requesterID).Warn("view chart session", zap.Error(err))
		return
	}
	if s.InFlight() {
		return
	}
	s.Load(a, display)
	n.Text(msgAnalyzePrompt)
}

func (b *Bot) loadChart(ctx context.Context, n Notifier, requesterID, chartID int64) (chart.Artifact, bool) {
	if b.Records == nil || b.Charts == nil {
		n.Text(msgHistoryOff)
		return chart.Artifact{}, false
	}
	rec, found, err := b.Records.GetChart(ctx, requesterID, chartID)
	if err != nil {
		b.storeDown(ctx, "get chart", requesterID, err)
		n.Text(msgHistoryOff)
		return chart.Artifact{}, false
	}
	if !found {
		n.Text(msgChartMissing)
		return chart.Artifact{}, false
	}
	a, ok := b.Charts.Resolve(rec)
	if !ok {
		n.Text(msgChartMissing)
		return chart.Artifact{}, false
	}
	return a, true
}

func (b *Bot) DeleteChart(ctx context.Context, n Notifier, requesterID, chartID int64) {
	defer b.guard(n, requesterID, "delete_chart")
	if b.Records == nil {
		n.Text(msgHistoryOff)
		return
	}
	err := b.Records.DeleteChart(ctx, requesterID, chartID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		n.Text(msgChartMissing)
		return
	case err != nil:
		b.storeDown(ctx, "delete chart", requesterID, err)
		n.Text(msgHistoryOff)
		return
	}
	if b.Results != nil {
		for _, m := range []analysis.Mode{analysis.ModeStructured, analysis.ModeFreeText} {
			_ = b.Results.Delete(ctx, resultKey(chartID, m))
		}
	}
	n.Text(msgChartDeleted)
}

// SubmitDateText feeds free text to the requester's session.
func (b *Bot) SubmitDateText(ctx context.Context, n Notifier, requesterID int64, text string) {
	defer b.guard(n, requesterID, "submit_date")
	s, ok := b.Sessions.Get(requesterID)
	if !ok {
		n.Text(msgNoSession)
		return
	}
	d, err := s.SubmitDate(text)
	if err != nil {
		b.reject(n, s, err)
		return
	}
	n.Text(slotPrompt(d))
}

// SubmitChoice handles button tokens: birth slot, sex, analysis and section
// drill-down.
func (b *Bot) SubmitChoice(ctx context.Context, n Notifier, requesterID int64, token string) {
	defer b.guard(n, requesterID, "submit_choice")
	token = strings.TrimSpace(token)
	switch {
	case token == TokenAnalyze:
		b.RequestAnalysis(ctx, n, requesterID)
		return
	case strings.HasPrefix(token, TokenDetailPrefix):
		b.RequestSection(ctx, n, requesterID, strings.TrimPrefix(token, TokenDetailPrefix))
		return
	}

	s, ok := b.Sessions.Get(requesterID)
	if !ok {
		n.Text(msgNoSession)
		return
	}
	switch s.State().(type) {
	case session.AwaitingTime:
		slot, err := s.SubmitSlot(token)
		if err != nil {
			b.reject(n, s, err)
			return
		}
		n.Text("🕰 Giờ sinh: " + slot.Display() + "\n\n" + msgChooseSex)
	case session.AwaitingSex:
		fp, err := s.SubmitSex(token)
		if err != nil {
			b.reject(n, s, err)
			return
		}
		b.acquire(ctx, n, s, fp)
	default:
		b.reject(n, s, fmt.Errorf("choice %q: %w", token, chart.ErrUnexpectedInput))
	}
}

func (b *Bot) reject(n Notifier, s *session.Session, err error) {
	switch {
	case errors.Is(err, chart.ErrInvalidFormat):
		n.Text(msgBadFormat)
	case errors.Is(err, chart.ErrOutOfRange):
		n.Text(msgOutOfRange)
	case errors.Is(err, chart.ErrInvalidSelection):
		n.Text(msgBadSelection)
	case errors.Is(err, chart.ErrUnexpectedInput):
		n.Text(hintFor(s.State()))
	default:
		b.logger.Error("input rejected", zap.Int64("requester_id", s.RequesterID()), zap.Error(err))
		n.Text(msgApology)
	}
}

func hintFor(st session.State) string {
	switch st := st.(type) {
	case session.AwaitingDate:
		return msgWelcome
	case session.AwaitingTime:
		return slotPrompt(st.Date)
	case session.AwaitingSex:
		return msgChooseSex
	case session.Ready:
		return msgAnalyzePrompt
	}
	return msgNoSession
}

// acquire produces and delivers the chart. It holds the requester's in-flight
// mark for the whole run; a cancel in the meantime only discards the session.
// The run is detached from ctx cancellation and bounded by the acquirer's own
// timeouts, so it always ends in a delivered chart or placeholder.
func (b *Bot) acquire(ctx context.Context, n Notifier, s *session.Session, fp chart.Fingerprint) {
	ctx = context.WithoutCancel(ctx)
	if err := b.Sessions.BeginAcquisition(ctx, s); err != nil {
		n.Text(msgInFlight)
		return
	}
	defer b.Sessions.EndAcquisition(ctx, s)

	n.Status("🔄 Đang lập lá số tử vi...", 0)
	res := b.Acquirer.Acquire(ctx, fp, func(p acquire.Progress) { n.Status(p.Text, p.Percent) })
	if res.Artifact.Path == "" {
		n.Text(msgDeliverFailure)
		return
	}

	caption := chartCaption(fp, res.Cached)
	switch res.Outcome {
	case acquire.AutomationFailed:
		caption = msgPlaceholder + "\n\n" + fp.Describe()
	case acquire.ExtractionFailed:
		caption = msgRawPage + "\n\n" + fp.Describe()
	}

	data, media, display, err := b.displayable(ctx, res.Artifact)
	if err != nil {
		b.log(ctx, fp.RequesterID).Error("chart not displayable", zap.Error(err))
		n.Text(msgDeliverFailure)
		return
	}
	n.Artifact(data, media, caption)

	if cur, ok := b.Sessions.Get(fp.RequesterID); !ok || cur != s {
		return
	}
	if res.Outcome == acquire.AutomationFailed {
		n.Text("Gõ /start để thử lại.")
		return
	}
	s.SetArtifact(res.Artifact, display)
	n.Text(msgAnalyzePrompt)
}

// displayable returns image bytes for a. Raw pages are rendered first and the
// rendering is written next to the other artifacts.
func (b *Bot) displayable(ctx context.Context, a chart.Artifact) ([]byte, string, string, error) {
	data, err := a.Bytes()
	if err != nil {
		return nil, "", "", err
	}
	if a.IsImage() {
		media := a.MediaType
		if media == "" {
			media = "image/jpeg"
		}
		return data, media, a.Path, nil
	}
	if b.Rasterizer == nil {
		return nil, "", "", fmt.Errorf("no rasterizer for raw page %s", a.Path)
	}
	img, err := b.Rasterizer.Rasterize(ctx, data)
	if err != nil {
		return nil, "", "", fmt.Errorf("rasterize %s: %w", a.Path, err)
	}
	p := ""
	if b.Dir != nil {
		if p, err = b.Dir.Write(a.Fingerprint.RequesterID, "jpg", img); err != nil {
			b.log(ctx, a.Fingerprint.RequesterID).Warn("save rendered page", zap.Error(err))
			p = ""
		}
	}
	return img, "image/jpeg", p, nil
}

func resultKey(chartID int64, m analysis.Mode) string {
	return "chart:" + strconv.FormatInt(chartID, 10) + ":" + string(m)
}

// RequestAnalysis analyses the session's current chart.
func (b *Bot) RequestAnalysis(ctx context.Context, n Notifier, requesterID int64) {
	defer b.guard(n, requesterID, "analysis")
	s, ok := b.Sessions.Get(requesterID)
	if !ok {
		n.Text(msgNoChart)
		return
	}
	a, display, ok := s.Artifact()
	if !ok {
		n.Text(msgNoChart)
		return
	}
	if display == "" {
		n.Text(msgCannotAnalyze)
		return
	}
	mode := b.Analyzer.Mode()
	subject := analysis.SubjectOf(a.Fingerprint)

	if res, ok := b.cachedResult(ctx, a.ID, mode); ok {
		s.SetAnalysis(res)
		b.deliverAnalysis(n, res, subject, mode)
		return
	}

	media := a.MediaType
	if display != a.Path || media == "" {
		media = "image/jpeg"
	}
	img, err := os.ReadFile(display)
	if err != nil {
		b.log(ctx, requesterID).Warn("chart image unreadable", zap.String("path", display), zap.Error(err))
		n.Text(msgCannotAnalyze)
		return
	}

	n.Status(msgAnalyzing, 0)
	res, err := b.Analyzer.Analyze(ctx, img, media, subject)
	if err != nil {
		n.Text("😔 " + res[analysis.ErrorKey])
		return
	}
	s.SetAnalysis(res)
	if !res.Degraded() {
		b.storeResult(ctx, a.ID, mode, res)
	}
	b.deliverAnalysis(n, res, subject, mode)
}

func (b *Bot) deliverAnalysis(n Notifier, res analysis.Result, subject analysis.Subject, mode analysis.Mode) {
	b.send(n, analysis.Format(res, subject, mode))
	if mode == analysis.ModeStructured && !res.Degraded() && len(res.Present()) > 1 {
		n.Text(sectionMenu(res))
	}
}

func (b *Bot) cachedResult(ctx context.Context, chartID int64, mode analysis.Mode) (analysis.Result, bool) {
	if b.Results == nil || chartID == 0 {
		return nil, false
	}
	raw, ok, err := b.Results.Get(ctx, resultKey(chartID, mode))
	if err != nil {
		b.log(ctx, 0).Warn("analysis cache read failed", zap.Int64("chart_id", chartID), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var res analysis.Result
	if err := json.Unmarshal(raw, &res); err != nil || len(res) == 0 {
		return nil, false
	}
	return res, true
}

func (b *Bot) storeResult(ctx context.Context, chartID int64, mode analysis.Mode, res analysis.Result) {
	if b.Results == nil || chartID == 0 {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := b.Results.Set(ctx, resultKey(chartID, mode), raw, b.analysisTTL); err != nil {
		b.log(ctx, 0).Warn("analysis cache write failed", zap.Int64("chart_id", chartID), zap.Error(err))
	}
}

// RequestSection shows one section of the last analysis.
func (b *Bot) RequestSection(ctx context.Context, n Notifier, requesterID int64, key string) {
	defer b.guard(n, requesterID, "section")
	s, ok := b.Sessions.Get(requesterID)
	if !ok {
		n.Text(msgNeedAnalysis)
		return
	}
	res, ok := s.Analysis()
	if !ok {
		n.Text(msgNeedAnalysis)
		return
	}
	k, ok := analysis.ParseSection(key)
	if !ok {
		n.Text(msgBadSelection)
		return
	}
	text, err := analysis.FormatSection(res, k)
	if err != nil {
		n.Text("Bản phân tích không có mục " + k.Title() + ".")
		return
	}
	b.send(n, text)
}

func (b *Bot) storeDown(ctx context.Context, op string, requesterID int64, err error) {
	metrics.Errors.WithLabelValues("store").Inc()
	b.log(ctx, requesterID).Warn("store operation failed",
		zap.String("op", op),
		zap.Error(fmt.Errorf("%w: %v", chart.ErrStoreUnavailable, err)))
}

// log returns the bot logger with the request fields carried by ctx. A
// non-zero requesterID is added to them.
func (b *Bot) log(ctx context.Context, requesterID int64) *zap.Logger {
	if requesterID != 0 {
		ctx = logging.WithFields(ctx, zap.Int64("requester_id", requesterID))
	}
	return logging.FromContext(ctx, b.logger)
}
