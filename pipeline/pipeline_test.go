package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"tubedigest/internal/models"
	"tubedigest/shared/config"
	"tubedigest/shared/email"
	"tubedigest/shared/scheduler"
	"tubedigest/shared/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var _ scheduler.Agent = (*Digest)(nil)

type fakeLister struct {
	videos []*models.Video
	err    error
	calls  int
}

func (f *fakeLister) ListRecentVideos(ctx context.Context) ([]*models.Video, error) {
	f.calls++
	return f.videos, f.err
}

type fakeSummarizer struct {
	mu      sync.Mutex
	failIDs map[string]bool
	delays  map[string]time.Duration
	calls   int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, video *models.Video) (*models.Summary, error) {
	f.mu.Lock()
	f.calls++
	delay := f.delays[video.ID]
	fail := f.failIDs[video.ID]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return nil, errors.New("provider rejected the request")
	}
	return &models.Summary{Video: video, Body: "Summary of " + video.Title, Model: "fake-model"}, nil
}

type fakeRenderer struct {
	report *models.Report
	err    error
	calls  int
}

func (f *fakeRenderer) Render(rep *models.Report) ([]byte, error) {
	f.calls++
	f.report = rep
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-fake-bytes"), nil
}

type fakeSender struct {
	err    error
	calls  int
	path   string
	report *models.Report
}

func (f *fakeSender) SendReport(ctx context.Context, rep *models.Report, attachmentPath string) error {
	f.calls++
	f.report = rep
	f.path = attachmentPath
	return f.err
}

type failingStore struct {
	writeErr error
}

func (f *failingStore) PathFor(date time.Time) string     { return "/unused/digest.pdf" }
func (f *failingStore) Write(path string, d []byte) error { return f.writeErr }

// eventRecorder captures the monitoring callbacks a run emits.
type eventRecorder struct {
	success  []scheduler.Metrics
	partial  []error
	critical []error
}

func (r *eventRecorder) events() *scheduler.AgentEvents {
	return &scheduler.AgentEvents{
		OnSuccess:         func(m scheduler.Metrics, d time.Duration) { r.success = append(r.success, m) },
		OnPartialFailure:  func(err error, d time.Duration) { r.partial = append(r.partial, err) },
		OnCriticalFailure: func(err error, d time.Duration) { r.critical = append(r.critical, err) },
	}
}

func listingFixture() []*models.Video {
	goWeekly := &models.Channel{ID: "chan-go", Title: "Go Weekly"}
	dbInternals := &models.Channel{ID: "chan-db", Title: "Database Internals"}

	return []*models.Video{
		{ID: "vid-1", Title: "Scheduler Deep Dive", Channel: goWeekly, URL: "https://www.youtube.com/watch?v=vid-1"},
		{ID: "vid-2", Title: "Escape Analysis Explained", Channel: goWeekly, URL: "https://www.youtube.com/watch?v=vid-2"},
		{ID: "vid-3", Title: "B-Trees from Scratch", Channel: dbInternals, URL: "https://www.youtube.com/watch?v=vid-3"},
	}
}

func testConfig(outputDir string) *config.Config {
	return &config.Config{
		AI:     config.AIConfig{Workers: 4, RatePerMinute: 100000},
		Report: config.ReportConfig{OutputDir: outputDir},
	}
}

func TestDigestName(t *testing.T) {
	d := NewDigest(testConfig(t.TempDir()))
	assert.Equal(t, "Video Digest", d.Name())
}

func TestDigestMetricsGetSummary(t *testing.T) {
	tests := []struct {
		name     string
		metrics  DigestMetrics
		expected string
	}{
		{
			name:     "All zeros",
			metrics:  DigestMetrics{},
			expected: "found 0 videos, summarized 0, 0 failed",
		},
		{
			name:     "Clean run",
			metrics:  DigestMetrics{VideosFound: 3, Summarized: 3},
			expected: "found 3 videos, summarized 3, 0 failed",
		},
		{
			name:     "Partial run",
			metrics:  DigestMetrics{VideosFound: 5, Summarized: 3, Failed: 2},
			expected: "found 5 videos, summarized 3, 2 failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.metrics.GetSummary())
		})
	}
}

func TestRunOnceHappyPath(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewReportStore(dir)
	require.NoError(t, err)

	videos := listingFixture()
	lister := &fakeLister{videos: videos}
	renderer := &fakeRenderer{}
	sender := &fakeSender{}
	rec := &eventRecorder{}

	d := NewDigest(testConfig(dir),
		WithLister(lister),
		WithSummarizer(&fakeSummarizer{}),
		WithRenderer(renderer),
		WithStore(store),
		WithSender(sender),
	)

	require.NoError(t, d.RunOnce(context.Background(), rec.events()))

	require.Len(t, rec.success, 1)
	metrics := rec.success[0].(*DigestMetrics)
	assert.Equal(t, 3, metrics.VideosFound)
	assert.Equal(t, 3, metrics.Summarized)
	assert.Equal(t, 0, metrics.Failed)
	assert.NotEmpty(t, metrics.ReportPath)
	assert.Empty(t, rec.partial)

	// The composed report pairs every listed video, in listing order.
	require.NotNil(t, renderer.report)
	assert.Equal(t, 3, renderer.report.VideoCount)
	require.Len(t, renderer.report.Items, 3)
	for i, item := range renderer.report.Items {
		assert.Same(t, videos[i], item.Video)
		require.NotNil(t, item.Summary)
		assert.Same(t, videos[i], item.Summary.Video)
	}

	// The dispatched file is the rendered document.
	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, metrics.ReportPath, sender.path)
	data, err := os.ReadFile(sender.path)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-fake-bytes"), data)
}

func TestRunOnceNoVideosSkipsDownstream(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewReportStore(dir)
	require.NoError(t, err)

	renderer := &fakeRenderer{}
	sender := &fakeSender{}
	summarizer := &fakeSummarizer{}
	rec := &eventRecorder{}

	d := NewDigest(testConfig(dir),
		WithLister(&fakeLister{}),
		WithSummarizer(summarizer),
		WithRenderer(renderer),
		WithStore(store),
		WithSender(sender),
	)

	require.NoError(t, d.RunOnce(context.Background(), rec.events()))

	require.Len(t, rec.success, 1)
	assert.Equal(t, 0, rec.success[0].(*DigestMetrics).VideosFound)

	assert.Equal(t, 0, summarizer.calls)
	assert.Equal(t, 0, renderer.calls)
	assert.Equal(t, 0, sender.calls)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "an empty run must not write a report file")
}

func TestRunOncePartialFailureStillDispatches(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewReportStore(dir)
	require.NoError(t, err)

	videos := listingFixture()[:2]
	renderer := &fakeRenderer{}
	sender := &fakeSender{}
	rec := &eventRecorder{}

	d := NewDigest(testConfig(dir),
		WithLister(&fakeLister{videos: videos}),
		WithSummarizer(&fakeSummarizer{failIDs: map[string]bool{"vid-1": true}}),
		WithRenderer(renderer),
		WithStore(store),
		WithSender(sender),
	)

	require.NoError(t, d.RunOnce(context.Background(), rec.events()),
		"a failed summary degrades the report, it does not abort the run")

	require.Len(t, rec.partial, 1)
	assert.Contains(t, rec.partial[0].Error(), "1 of 2")
	require.Len(t, rec.success, 1)

	metrics := rec.success[0].(*DigestMetrics)
	assert.Equal(t, 2, metrics.VideosFound)
	assert.Equal(t, 1, metrics.Summarized)
	assert.Equal(t, 1, metrics.Failed)

	// The failed video keeps its slot, without a summary.
	require.NotNil(t, renderer.report)
	assert.Equal(t, 2, renderer.report.VideoCount)
	assert.Nil(t, renderer.report.Items[0].Summary)
	assert.NotNil(t, renderer.report.Items[1].Summary)

	assert.Equal(t, 1, sender.calls)
}

func TestRunOnceListerError(t *testing.T) {
	renderer := &fakeRenderer{}
	rec := &eventRecorder{}

	d := NewDigest(testConfig(t.TempDir()),
		WithLister(&fakeLister{err: errors.New("subscriptions unavailable")}),
		WithSummarizer(&fakeSummarizer{}),
		WithRenderer(renderer),
		WithStore(&failingStore{}),
		WithSender(&fakeSender{}),
	)

	err := d.RunOnce(context.Background(), rec.events())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list recent videos")
	assert.Empty(t, rec.success)
	assert.Equal(t, 0, renderer.calls)
}

func TestRunOnceRenderError(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewReportStore(dir)
	require.NoError(t, err)

	sender := &fakeSender{}

	d := NewDigest(testConfig(dir),
		WithLister(&fakeLister{videos: listingFixture()}),
		WithSummarizer(&fakeSummarizer{}),
		WithRenderer(&fakeRenderer{err: errors.New("font missing")}),
		WithStore(store),
		WithSender(sender),
	)

	err = d.RunOnce(context.Background(), &scheduler.AgentEvents{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to render report")
	assert.Equal(t, 0, sender.calls)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "a failed render must leave no partial file behind")
}

func TestRunOnceStoreError(t *testing.T) {
	sender := &fakeSender{}

	d := NewDigest(testConfig(t.TempDir()),
		WithLister(&fakeLister{videos: listingFixture()}),
		WithSummarizer(&fakeSummarizer{}),
		WithRenderer(&fakeRenderer{}),
		WithStore(&failingStore{writeErr: errors.New("disk full")}),
		WithSender(sender),
	)

	err := d.RunOnce(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write report")
	assert.Equal(t, 0, sender.calls)
}

func TestRunOnceDispatchFailureKeepsReport(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewReportStore(dir)
	require.NoError(t, err)

	sender := &fakeSender{err: &email.AuthError{Err: errors.New("535 bad credentials")}}
	rec := &eventRecorder{}

	d := NewDigest(testConfig(dir),
		WithLister(&fakeLister{videos: listingFixture()}),
		WithSummarizer(&fakeSummarizer{}),
		WithRenderer(&fakeRenderer{}),
		WithStore(store),
		WithSender(sender),
	)

	err = d.RunOnce(context.Background(), rec.events())
	require.Error(t, err)

	var authErr *email.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Empty(t, rec.success)

	// The stored file survives the failed dispatch.
	data, readErr := os.ReadFile(sender.path)
	require.NoError(t, readErr)
	assert.Equal(t, []byte("%PDF-fake-bytes"), data)
}

func TestRunOnceOrderStableUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewReportStore(dir)
	require.NoError(t, err)

	// The first listed video finishes last; listing order must still win.
	videos := listingFixture()
	summarizer := &fakeSummarizer{delays: map[string]time.Duration{
		"vid-1": 60 * time.Millisecond,
		"vid-2": 30 * time.Millisecond,
		"vid-3": time.Millisecond,
	}}
	renderer := &fakeRenderer{}

	d := NewDigest(testConfig(dir),
		WithLister(&fakeLister{videos: videos}),
		WithSummarizer(summarizer),
		WithRenderer(renderer),
		WithStore(store),
		WithSender(&fakeSender{}),
	)

	require.NoError(t, d.RunOnce(context.Background(), nil))

	require.NotNil(t, renderer.report)
	require.Len(t, renderer.report.Items, 3)
	for i, item := range renderer.report.Items {
		assert.Equal(t, videos[i].ID, item.Video.ID)
	}
}

func TestRunOnceNilEvents(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewReportStore(dir)
	require.NoError(t, err)

	d := NewDigest(testConfig(dir),
		WithLister(&fakeLister{videos: listingFixture()}),
		WithSummarizer(&fakeSummarizer{}),
		WithRenderer(&fakeRenderer{}),
		WithStore(store),
		WithSender(&fakeSender{}),
	)

	assert.NoError(t, d.RunOnce(context.Background(), nil))
}

func TestWorkersFallback(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.AI.Workers = 0

	d := NewDigest(cfg)
	assert.Equal(t, 1, d.workers())
}

func TestNewDigestRateLimiterDefault(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.AI.RatePerMinute = 0

	d := NewDigest(cfg)
	assert.Equal(t, rate.Every(time.Minute/defaultRatePerMinute), d.limiter.Limit())
}
