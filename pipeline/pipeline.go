// Package pipeline runs the daily digest: list recent subscription videos,
// summarize them, render the PDF report, store it, and email it.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"tubedigest/internal/models"
	"tubedigest/report"
	"tubedigest/shared/ai"
	"tubedigest/shared/config"
	"tubedigest/shared/email"
	"tubedigest/shared/scheduler"
	"tubedigest/shared/storage"
	"tubedigest/youtube"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultRatePerMinute = 30

// Lister produces the videos a run works on.
type Lister interface {
	ListRecentVideos(ctx context.Context) ([]*models.Video, error)
}

// Renderer turns a composed report into the bytes of the output document.
type Renderer interface {
	Render(rep *models.Report) ([]byte, error)
}

// Store names and persists report files.
type Store interface {
	PathFor(date time.Time) string
	Write(path string, data []byte) error
}

// Sender dispatches a stored report file.
type Sender interface {
	SendReport(ctx context.Context, rep *models.Report, attachmentPath string) error
}

// Digest implements the scheduler.Agent interface.
type Digest struct {
	config     *config.Config
	lister     Lister
	summarizer ai.Summarizer
	renderer   Renderer
	store      Store
	sender     Sender
	limiter    *rate.Limiter
}

type Option func(*Digest)

func WithLister(l Lister) Option {
	return func(d *Digest) { d.lister = l }
}

func WithSummarizer(s ai.Summarizer) Option {
	return func(d *Digest) { d.summarizer = s }
}

func WithRenderer(r Renderer) Option {
	return func(d *Digest) { d.renderer = r }
}

func WithStore(s Store) Option {
	return func(d *Digest) { d.store = s }
}

func WithSender(s Sender) Option {
	return func(d *Digest) { d.sender = s }
}

func NewDigest(cfg *config.Config, opts ...Option) *Digest {
	perMinute := cfg.AI.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}

	d := &Digest{
		config:  cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Digest) Name() string {
	return "Video Digest"
}

// Initialize constructs any collaborator not injected through options.
func (d *Digest) Initialize() error {
	log.Infof("Initializing %s...", d.Name())

	if d.lister == nil {
		client, err := youtube.NewClient(&d.config.YouTube)
		if err != nil {
			return fmt.Errorf("failed to create YouTube client: %w", err)
		}
		d.lister = client
		log.Info("YouTube client initialized")
	}

	if d.summarizer == nil {
		summarizer, err := ai.NewSummarizer(&d.config.AI)
		if err != nil {
			return fmt.Errorf("failed to create summarizer: %w", err)
		}
		d.summarizer = summarizer
		log.Info("Summarizer initialized")
	}

	if d.renderer == nil {
		d.renderer = report.NewPDFRenderer(&d.config.Report)
		log.Info("PDF renderer initialized")
	}

	if d.store == nil {
		store, err := storage.NewReportStore(d.config.Report.OutputDir)
		if err != nil {
			return fmt.Errorf("failed to create report store: %w", err)
		}
		d.store = store
		log.Infof("Report store initialized (dir: %s)", d.config.Report.OutputDir)
	}

	if d.sender == nil {
		d.sender = email.NewSender(&d.config.Email)
		log.Info("Email sender initialized")
	}

	return nil
}

// DigestMetrics summarizes one run for monitoring.
type DigestMetrics struct {
	VideosFound int
	Summarized  int
	Failed      int
	ReportPath  string
}

func (m *DigestMetrics) GetSummary() string {
	return fmt.Sprintf("found %d videos, summarized %d, %d failed", m.VideosFound, m.Summarized, m.Failed)
}

func (d *Digest) RunOnce(ctx context.Context, events *scheduler.AgentEvents) error {
	startTime := time.Now()
	runID := uuid.NewString()
	logger := log.WithField("run_id", runID)

	logger.Info("Fetching recent videos from subscriptions...")
	videos, err := d.lister.ListRecentVideos(ctx)
	if err != nil {
		return fmt.Errorf("failed to list recent videos: %w", err)
	}

	metrics := &DigestMetrics{VideosFound: len(videos)}

	if len(videos) == 0 {
		logger.Info("No recent videos found, skipping report")
		if events != nil && events.OnSuccess != nil {
			events.OnSuccess(metrics, time.Since(startTime))
		}
		return nil
	}

	logger.Infof("Found %d videos, summarizing with %d workers", len(videos), d.workers())

	summaries, failed := d.summarizeAll(ctx, logger, videos)
	metrics.Summarized = len(summaries)
	metrics.Failed = failed

	if failed > 0 {
		logger.Warnf("Summarization completed with %d failures", failed)
		if events != nil && events.OnPartialFailure != nil {
			events.OnPartialFailure(fmt.Errorf("%d of %d summaries failed", failed, len(videos)), time.Since(startTime))
		}
	}

	generatedAt := time.Now()
	rep := report.Compose(videos, summaries, generatedAt, runID)

	data, err := d.renderer.Render(rep)
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	path := d.store.PathFor(generatedAt)
	if err := d.store.Write(path, data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	metrics.ReportPath = path
	logger.Infof("Report written to %s", path)

	if err := d.sender.SendReport(ctx, rep, path); err != nil {
		// The rendered file stays on disk for manual recovery.
		logger.Errorf("Dispatch failed, report kept at %s", path)
		return fmt.Errorf("failed to send report: %w", err)
	}

	if events != nil && events.OnSuccess != nil {
		events.OnSuccess(metrics, time.Since(startTime))
	}

	logger.Infof("Run complete: %d videos, %d summarized, %d failed, report at %s",
		len(videos), metrics.Summarized, failed, path)

	return nil
}

// summarizeAll fans summarization out over a bounded worker pool. One
// video's failure never fails the run: failed slots stay nil and the
// composer renders a placeholder for them. Results keep listing order.
func (d *Digest) summarizeAll(ctx context.Context, logger *log.Entry, videos []*models.Video) (map[string]*models.Summary, int) {
	results := make([]*models.Summary, len(videos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers())

	for i, video := range videos {
		g.Go(func() error {
			if err := d.limiter.Wait(gctx); err != nil {
				logger.Warnf("Skipping video %s: %v", video.ID, err)
				return nil
			}

			summary, err := d.summarizer.Summarize(gctx, video)
			if err != nil {
				logger.WithError(err).Warnf("Failed to summarize video %s (%s)", video.ID, video.Title)
				return nil
			}
			results[i] = summary
			return nil
		})
	}

	// Workers never return errors; the group is only a bounded barrier.
	_ = g.Wait()

	summaries := make(map[string]*models.Summary, len(videos))
	failed := 0
	for i, video := range videos {
		if results[i] == nil {
			failed++
			continue
		}
		summaries[video.ID] = results[i]
	}
	return summaries, failed
}

func (d *Digest) workers() int {
	if d.config.AI.Workers > 0 {
		return d.config.AI.Workers
	}
	return 1
}
