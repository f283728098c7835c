package models

import "time"

// Summary is the generated digest of a single video.
type Summary struct {
	Video            *Video `json:"video"`
	Body             string `json:"body"`
	TitleTranslation string `json:"title_translation"`
	Model            string `json:"model"`
}

// ReportItem pairs a video with its summary. Summary is nil when the video
// could not be summarized; the rendered report shows a placeholder block
// instead of dropping the video.
type ReportItem struct {
	Video   *Video   `json:"video"`
	Summary *Summary `json:"summary"`
}

// Report holds everything one run produced. VideoCount always equals the
// number of items.
type Report struct {
	GeneratedAt time.Time    `json:"generated_at"`
	RunID       string       `json:"run_id"`
	Items       []ReportItem `json:"items"`
	VideoCount  int          `json:"video_count"`
}
