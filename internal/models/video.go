package models

import "time"

// Channel identifies a subscribed channel.
type Channel struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Video is one upload discovered during listing. Values are read-only once
// the lister has produced them.
type Video struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Channel     *Channel  `json:"channel"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url"`
}
