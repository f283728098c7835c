// Package report turns a run's (video, summary) pairs into the distributable
// digest document.
package report

import (
	"time"

	"tubedigest/internal/models"
)

// Compose pairs the listed videos with their summaries, keeping the listing
// order. It is a pure transformation: identical input always yields an
// identical Report, and zero videos still produce a valid empty document.
// Videos without a summary keep their slot with a nil Summary.
func Compose(videos []*models.Video, summaries map[string]*models.Summary, generatedAt time.Time, runID string) *models.Report {
	items := make([]models.ReportItem, 0, len(videos))
	for _, video := range videos {
		items = append(items, models.ReportItem{
			Video:   video,
			Summary: summaries[video.ID],
		})
	}

	return &models.Report{
		GeneratedAt: generatedAt,
		RunID:       runID,
		Items:       items,
		VideoCount:  len(items),
	}
}
