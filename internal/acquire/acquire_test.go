package acquire

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/tuvi/config"
	"github.com/mohammad-safakhou/tuvi/internal/assets"
	"github.com/mohammad-safakhou/tuvi/internal/browser"
	"github.com/mohammad-safakhou/tuvi/internal/chart"
)

type fakeLauncher struct {
	opens   int
	openErr error
	sess    *fakeSession
}

func (l *fakeLauncher) Open(context.Context) (browser.Session, error) {
	l.opens++
	if l.openErr != nil {
		return nil, l.openErr
	}
	return l.sess, nil
}

// fakeSession records every form interaction. failOn names the operation
// that returns failErr.
type fakeSession struct {
	page    []byte
	failOn  string
	failErr error

	values  map[string]string
	checked []string
	tabs    []string
	current string
	closed  bool
	shots   int

	// hang makes Navigate block until its context ends.
	hang       bool
	navTimeout time.Duration
	shotErr    error
}

func newFakeSession(page []byte) *fakeSession {
	return &fakeSession{page: page, values: map[string]string{}, tabs: []string{"t1"}}
}

func (s *fakeSession) fail(op string) error {
	if s.failOn == op {
		return s.failErr
	}
	return nil
}

func (s *fakeSession) Navigate(ctx context.Context, _ string, timeout time.Duration) error {
	s.navTimeout = timeout
	if s.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.fail("navigate")
}

func (s *fakeSession) WaitVisible(_ context.Context, sel string, _ time.Duration) error {
	return s.fail("wait:" + sel)
}

func (s *fakeSession) SetValue(_ context.Context, id, value string) error {
	if err := s.fail("set:" + id); err != nil {
		return err
	}
	s.values[id] = value
	return nil
}

func (s *fakeSession) Check(_ context.Context, id string) error {
	if err := s.fail("check:" + id); err != nil {
		return err
	}
	s.checked = append(s.checked, id)
	return nil
}

func (s *fakeSession) Select(_ context.Context, id, value string) error {
	if err := s.fail("select:" + id); err != nil {
		return err
	}
	s.values[id] = value
	return nil
}

func (s *fakeSession) ClickXPath(context.Context, string) error {
	if err := s.fail("click"); err != nil {
		return err
	}
	s.tabs = append(s.tabs, "t2")
	return nil
}

func (s *fakeSession) Tabs(context.Context) ([]string, error) {
	return append([]string(nil), s.tabs...), nil
}

func (s *fakeSession) WaitNewTab(_ context.Context, known []string, _ time.Duration) (string, error) {
	if err := s.fail("newtab"); err != nil {
		return "", err
	}
	if len(s.tabs) <= len(known) {
		return "", chart.ErrAutomationTimeout
	}
	return s.tabs[len(s.tabs)-1], nil
}

func (s *fakeSession) SwitchTo(_ context.Context, id string) error {
	s.current = id
	return s.fail("switch")
}

func (s *fakeSession) OuterHTML(context.Context) ([]byte, error) {
	if err := s.fail("html"); err != nil {
		return nil, err
	}
	return s.page, nil
}

func (s *fakeSession) Screenshot(ctx context.Context) ([]byte, error) {
	s.shots++
	s.shotErr = ctx.Err()
	return []byte("screenshot"), nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeCache struct {
	entries map[chart.Fingerprint]chart.Artifact
	stored  []chart.Artifact
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[chart.Fingerprint]chart.Artifact{}}
}

func (c *fakeCache) Lookup(_ context.Context, fp chart.Fingerprint) (chart.Artifact, bool) {
	a, ok := c.entries[fp]
	return a, ok
}

func (c *fakeCache) Store(_ context.Context, a chart.Artifact) int64 {
	a.ID = int64(len(c.stored) + 1)
	c.stored = append(c.stored, a)
	c.entries[a.Fingerprint] = a
	return a.ID
}

func chartPage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return []byte(`<html><body><img src="data:image/jpeg;base64,` + base64.StdEncoding.EncodeToString(buf.Bytes()) + `"></body></html>`)
}

func fingerprint(t *testing.T, day, month, year int, slot chart.BirthSlot, sex chart.Sex) chart.Fingerprint {
	t.Helper()
	d, err := chart.NewBirthDate(day, month, year)
	if err != nil {
		t.Fatalf("NewBirthDate: %v", err)
	}
	fp, err := chart.NewFingerprint(1, d, slot, sex)
	if err != nil {
		t.Fatalf("NewFingerprint: %v", err)
	}
	return fp
}

func newAcquirer(t *testing.T, l browser.Launcher, c Cache) (*Acquirer, *assets.Dir) {
	t.Helper()
	dir, err := assets.New(t.TempDir())
	if err != nil {
		t.Fatalf("assets.New: %v", err)
	}
	site := config.ChartSiteConfig{
		URL:             "https://example.test/lasotuvi",
		RequesterName:   "Tu Vi Bot",
		NavigateTimeout: 2 * time.Second,
		LoadTimeout:     time.Second,
		SubmitTimeout:   time.Second,
		ResultTimeout:   time.Second,
		AcquireTimeout:  10 * time.Second,
	}
	a := New(l, c, dir, site, nil)
	a.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return a, dir
}

func TestAcquireFreshThenCached(t *testing.T) {
	sess := newFakeSession(chartPage(t))
	l := &fakeLauncher{sess: sess}
	c := newFakeCache()
	a, _ := newAcquirer(t, l, c)
	fp := fingerprint(t, 15, 8, 1990, chart.SlotTy, chart.SexMale)

	var percents []int
	res := a.Acquire(context.Background(), fp, func(p Progress) { percents = append(percents, p.Percent) })
	if res.Cached || res.Outcome != OK || res.Reason != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Artifact.ID != 1 || !res.Artifact.IsImage() || res.Artifact.MediaType != "image/jpeg" {
		t.Fatalf("unexpected artifact: %+v", res.Artifact)
	}
	if !strings.HasSuffix(res.Artifact.Path, "1_1.jpg") {
		t.Fatalf("unexpected path %s", res.Artifact.Path)
	}
	if !sess.closed {
		t.Fatal("session must be closed")
	}
	if got, want := fmt.Sprint(percents), "[10 30 50 70 80 90 100]"; got != want {
		t.Fatalf("progress %s, want %s", got, want)
	}

	again := a.Acquire(context.Background(), fp, nil)
	if !again.Cached || again.Artifact.Path != res.Artifact.Path {
		t.Fatalf("expected cache hit, got %+v", again)
	}
	if l.opens != 1 {
		t.Fatalf("automation ran %d times, want 1", l.opens)
	}
}

func TestFillFormMapsFingerprint(t *testing.T) {
	sess := newFakeSession(chartPage(t))
	a, _ := newAcquirer(t, &fakeLauncher{sess: sess}, nil)
	fp := fingerprint(t, 5, 3, 1988, chart.SlotUnknown, chart.SexFemale)

	if res := a.Acquire(context.Background(), fp, nil); res.Outcome != OK {
		t.Fatalf("unexpected outcome %v: %v", res.Outcome, res.Reason)
	}
	want := map[string]string{
		idName:     "Tu Vi Bot",
		idYear:     "1988",
		idMonth:    "03",
		idDay:      "05",
		idHour:     chart.SlotUnknown.FormHour(),
		idMinute:   "00",
		idViewYear: "2026",
	}
	for id, v := range want {
		if sess.values[id] != v {
			t.Errorf("%s = %q, want %q", id, sess.values[id], v)
		}
	}
	checked := strings.Join(sess.checked, ",")
	if !strings.Contains(checked, idFemale) || strings.Contains(checked, idMale+",") {
		t.Fatalf("unexpected radios %s", checked)
	}
	for _, id := range []string{idSolar, idColorOutput, idKeepResult, idNoTZWarning, idConsent} {
		if !strings.Contains(checked, id) {
			t.Errorf("%s not checked", id)
		}
	}
	if sess.current != "t2" {
		t.Fatalf("expected switch to new tab, got %q", sess.current)
	}
}

func TestAcquireNoImageKeepsRawPage(t *testing.T) {
	page := []byte("<html><body><p>Lá số</p></body></html>")
	c := newFakeCache()
	a, _ := newAcquirer(t, &fakeLauncher{sess: newFakeSession(page)}, c)
	fp := fingerprint(t, 15, 8, 1990, chart.SlotNgo, chart.SexMale)

	res := a.Acquire(context.Background(), fp, nil)
	if res.Outcome != ExtractionFailed || !errors.Is(res.Reason, chart.ErrNoImage) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Artifact.Form != chart.FormRawPage || !strings.HasSuffix(res.Artifact.Path, ".html") {
		t.Fatalf("unexpected artifact: %+v", res.Artifact)
	}
	data, err := os.ReadFile(res.Artifact.Path)
	if err != nil || !bytes.Equal(data, page) {
		t.Fatalf("raw page not written: %v", err)
	}
	if len(c.stored) != 1 {
		t.Fatalf("raw page should be cached, stored %d", len(c.stored))
	}
}

func TestAcquireCorruptImageNeverPersisted(t *testing.T) {
	page := []byte(`<img src="data:image/jpeg;base64,` + base64.StdEncoding.EncodeToString([]byte("not a jpeg")) + `">`)
	a, dir := newAcquirer(t, &fakeLauncher{sess: newFakeSession(page)}, nil)
	fp := fingerprint(t, 15, 8, 1990, chart.SlotNgo, chart.SexMale)

	res := a.Acquire(context.Background(), fp, nil)
	if res.Outcome != ExtractionFailed {
		t.Fatalf("expected extraction failure, got %v", res.Outcome)
	}
	entries, err := os.ReadDir(dir.Root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".jpg") {
			t.Fatalf("corrupt image persisted as %s", e.Name())
		}
	}
}

func TestAcquireSubmitFailureYieldsPlaceholder(t *testing.T) {
	sess := newFakeSession(chartPage(t))
	sess.failOn = "click"
	sess.failErr = fmt.Errorf("click submit: %w", chart.ErrElementMissing)
	c := newFakeCache()
	a, _ := newAcquirer(t, &fakeLauncher{sess: sess}, c)
	fp := fingerprint(t, 15, 8, 1990, chart.SlotTy, chart.SexMale)

	res := a.Acquire(context.Background(), fp, nil)
	if res.Outcome != AutomationFailed || res.Stage != StageFailed || !errors.Is(res.Reason, chart.ErrElementMissing) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Artifact.Path == "" || !res.Artifact.IsImage() {
		t.Fatalf("expected placeholder artifact, got %+v", res.Artifact)
	}
	data, err := res.Artifact.Bytes()
	if err != nil {
		t.Fatalf("read placeholder: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("placeholder is not a jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != placeholderWidth || b.Dy() != placeholderHeight {
		t.Fatalf("unexpected placeholder size %v", b)
	}
	if len(c.stored) != 0 {
		t.Fatal("placeholder must not be cached")
	}
	if !sess.closed || sess.shots != 1 {
		t.Fatalf("expected close and one screenshot, got closed=%v shots=%d", sess.closed, sess.shots)
	}
}

func TestAcquireTimeoutsAndMissingControls(t *testing.T) {
	cases := []struct {
		failOn string
		err    error
	}{
		{"wait:#" + idName, chart.ErrAutomationTimeout},
		{"select:" + idHour, chart.ErrElementMissing},
		{"newtab", chart.ErrAutomationTimeout},
		{"wait:body", chart.ErrAutomationTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.failOn, func(t *testing.T) {
			sess := newFakeSession(chartPage(t))
			sess.failOn = tc.failOn
			sess.failErr = tc.err
			a, _ := newAcquirer(t, &fakeLauncher{sess: sess}, newFakeCache())
			res := a.Acquire(context.Background(), fingerprint(t, 1, 1, 2000, chart.SlotMao, chart.SexMale), nil)
			if res.Outcome != AutomationFailed || !errors.Is(res.Reason, tc.err) {
				t.Fatalf("unexpected result %+v", res)
			}
			if res.Artifact.Path == "" {
				t.Fatal("expected placeholder")
			}
			if !sess.closed {
				t.Fatal("session left open")
			}
		})
	}
}

func TestAcquireHungNavigationTimesOut(t *testing.T) {
	sess := newFakeSession(chartPage(t))
	sess.hang = true
	c := newFakeCache()
	a, _ := newAcquirer(t, &fakeLauncher{sess: sess}, c)
	a.Site.AcquireTimeout = 100 * time.Millisecond
	fp := fingerprint(t, 15, 8, 1990, chart.SlotNgo, chart.SexFemale)

	done := make(chan Result, 1)
	started := time.Now()
	go func() { done <- a.Acquire(context.Background(), fp, nil) }()

	var res Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("acquisition outlived its timeout")
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("acquisition took %v", elapsed)
	}
	if res.Outcome != AutomationFailed || res.Stage != StageFailed || !errors.Is(res.Reason, chart.ErrAutomationTimeout) {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Artifact.Path == "" || !res.Artifact.IsImage() {
		t.Fatalf("expected placeholder, got %+v", res.Artifact)
	}
	if sess.navTimeout != a.Site.NavigateTimeout {
		t.Fatalf("navigate got timeout %v, want %v", sess.navTimeout, a.Site.NavigateTimeout)
	}
	if !sess.closed || sess.shots != 1 || sess.shotErr != nil {
		t.Fatalf("expected close and a live screenshot, got closed=%v shots=%d err=%v", sess.closed, sess.shots, sess.shotErr)
	}
	if len(c.stored) != 0 {
		t.Fatal("placeholder must not be cached")
	}
}

func TestAcquireLaunchFailure(t *testing.T) {
	a, _ := newAcquirer(t, &fakeLauncher{openErr: errors.New("chrome not found")}, nil)
	res := a.Acquire(context.Background(), fingerprint(t, 1, 1, 2000, chart.SlotTy, chart.SexMale), nil)
	if res.Outcome != AutomationFailed || res.Artifact.Path == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAsciiFoldAndWrap(t *testing.T) {
	if got := asciiFold("Giờ sinh: Tý, giới tính Nữ, Đà Nẵng"); got != "Gio sinh: Ty, gioi tinh Nu, Da Nang" {
		t.Fatalf("asciiFold = %q", got)
	}
	lines := wrap("aaaa bbbb cccccccccc", 5)
	if got := strings.Join(lines, "|"); got != "aaaa|bbbb|ccccc|ccccc" {
		t.Fatalf("wrap = %q", got)
	}
}
