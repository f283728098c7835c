// Package youtube lists recently published uploads from the authenticated
// user's subscriptions via the YouTube Data API v3, using the OAuth2 device
// flow for credentials.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"tubedigest/internal/models"
	"tubedigest/shared/config"
	"tubedigest/shared/retry"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const watchURLFormat = "https://www.youtube.com/watch?v=%s"

// batchSize is the Data API maximum for id-list and page-size parameters.
const batchSize = 50

var listRetryPolicy = retry.Policy{
	MaxAttempts:     3,
	InitialInterval: 2 * time.Second,
	MaxInterval:     15 * time.Second,
	Multiplier:      2,
}

// AuthError marks an authentication failure against the catalog. A run
// cannot proceed without credentials, so callers treat it as fatal.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("youtube authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Client lists recent uploads from the authenticated user's subscriptions.
type Client struct {
	service     *youtube.Service
	config      *config.YouTubeConfig
	oauthConfig *oauth2.Config
	token       *oauth2.Token
}

// NewClient loads a cached OAuth token (or runs the interactive device flow)
// and builds an authenticated Data API client.
func NewClient(cfg *config.YouTubeConfig) (*Client, error) {
	ctx := context.Background()

	// OAuth2 config for the device authorization flow.
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{"https://www.googleapis.com/auth/youtube.readonly"},
		Endpoint:     google.Endpoint,
	}

	token, err := getToken(oauthConfig, cfg.TokenFile)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	// Token source that auto-refreshes and persists the token.
	tokenSource := &tokenSaver{
		config:    oauthConfig,
		token:     token,
		tokenFile: cfg.TokenFile,
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	httpClient.Timeout = 30 * time.Second

	service, err := youtube.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	return &Client{
		service:     service,
		config:      cfg,
		oauthConfig: oauthConfig,
		token:       token,
	}, nil
}

// channelUploads ties a subscribed channel to its uploads playlist.
type channelUploads struct {
	channel    *models.Channel
	playlistID string
}

// ListRecentVideos walks the subscription list and returns uploads published
// inside the recency window, truncated to MaxChannels subscriptions and
// MaxVideosPerChannel uploads each. Ordering is subscription order then
// upload recency, which is stable for a given catalog snapshot.
func (c *Client) ListRecentVideos(ctx context.Context) ([]*models.Video, error) {
	if c.config.MaxChannels == 0 || c.config.MaxVideosPerChannel == 0 {
		log.Info("Channel or per-channel video cap is zero, nothing to list")
		return []*models.Video{}, nil
	}

	since := time.Now().AddDate(0, 0, -c.config.DaysBack)

	channels, err := c.listSubscribedChannels(ctx)
	if err != nil {
		if isAuthError(err) {
			return nil, &AuthError{Err: err}
		}
		if !isQuotaError(err) {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		log.WithError(err).Warnf("Subscription listing exceeded the API quota, continuing with the %d channel(s) gathered so far", len(channels))
	}

	if len(channels) == 0 {
		log.Info("No subscriptions found")
		return []*models.Video{}, nil
	}
	log.Infof("Listing uploads from %d subscribed channels since %s", len(channels), since.Format("2006-01-02 15:04"))

	uploads := c.resolveUploadPlaylists(ctx, channels)
	if len(uploads) == 0 {
		log.Warn("No upload playlists resolved for subscriptions")
		return []*models.Video{}, nil
	}

	// Collect recent video IDs channel by channel; a failing channel is
	// logged and skipped without aborting the run.
	ordered := make([]string, 0, len(uploads)*c.config.MaxVideosPerChannel)
	byChannel := make(map[string]*models.Channel)

	for _, cu := range uploads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ids, err := c.recentUploadIDs(ctx, cu, since)
		if err != nil {
			log.WithError(err).Warnf("Failed to list uploads for channel %s, skipping", cu.channel.Title)
			continue
		}

		for _, id := range ids {
			ordered = append(ordered, id)
			byChannel[id] = cu.channel
		}
	}

	if len(ordered) == 0 {
		log.Info("No videos published inside the recency window")
		return []*models.Video{}, nil
	}

	details := c.fetchVideoDetails(ctx, ordered)

	videos := make([]*models.Video, 0, len(ordered))
	for _, id := range ordered {
		item, ok := details[id]
		if !ok {
			continue
		}

		video := &models.Video{
			ID:          id,
			Title:       item.Snippet.Title,
			Description: item.Snippet.Description,
			Channel:     byChannel[id],
			URL:         fmt.Sprintf(watchURLFormat, id),
		}
		if publishedAt, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			video.PublishedAt = publishedAt
		}
		videos = append(videos, video)
	}

	log.Infof("Found %d recent videos across %d channels", len(videos), len(uploads))
	return videos, nil
}

// listSubscribedChannels pages through the subscription list until
// MaxChannels channels are collected or the pages run out. A failing page
// returns the channels gathered so far alongside the error, so callers can
// degrade to a partial run.
func (c *Client) listSubscribedChannels(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	pageToken := ""

	for {
		call := c.service.Subscriptions.List([]string{"snippet"}).
			Mine(true).
			MaxResults(batchSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *youtube.SubscriptionListResponse
		err := retry.Do(ctx, "list subscriptions", listRetryPolicy, isRetryable, func(ctx context.Context) error {
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return channels, err
		}

		for _, sub := range resp.Items {
			channels = append(channels, &models.Channel{
				ID:    sub.Snippet.ResourceId.ChannelId,
				Title: sub.Snippet.Title,
			})
			if len(channels) >= c.config.MaxChannels {
				return channels, nil
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return channels, nil
		}
	}
}

// resolveUploadPlaylists maps channels to their uploads playlist IDs in
// batches, preserving subscription order. Failed batches are logged and
// skipped.
func (c *Client) resolveUploadPlaylists(ctx context.Context, channels []*models.Channel) []channelUploads {
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}

	playlists := make(map[string]string, len(channels)) // channel ID -> uploads playlist
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		call := c.service.Channels.List([]string{"contentDetails"}).
			Id(strings.Join(ids[i:end], ",")).
			Context(ctx)

		var resp *youtube.ChannelListResponse
		err := retry.Do(ctx, "resolve upload playlists", listRetryPolicy, isRetryable, func(ctx context.Context) error {
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			log.WithError(err).Warnf("Failed to resolve upload playlists for %d channels, skipping batch", end-i)
			continue
		}

		for _, item := range resp.Items {
			if item.ContentDetails != nil && item.ContentDetails.RelatedPlaylists != nil && item.ContentDetails.RelatedPlaylists.Uploads != "" {
				playlists[item.Id] = item.ContentDetails.RelatedPlaylists.Uploads
			}
		}
	}

	uploads := make([]channelUploads, 0, len(channels))
	for _, ch := range channels {
		if playlistID, ok := playlists[ch.ID]; ok {
			uploads = append(uploads, channelUploads{channel: ch, playlistID: playlistID})
		}
	}
	return uploads
}

// recentUploadIDs returns the IDs of a channel's newest uploads that fall
// inside the recency window. The API rejects page sizes above 50, so caps
// beyond that span multiple pages.
func (c *Client) recentUploadIDs(ctx context.Context, uploads channelUploads, since time.Time) ([]string, error) {
	var ids []string
	remaining := c.config.MaxVideosPerChannel
	pageToken := ""

	for remaining > 0 {
		pageSize := remaining
		if pageSize > batchSize {
			pageSize = batchSize
		}

		call := c.service.PlaylistItems.List([]string{"snippet"}).
			PlaylistId(uploads.playlistID).
			MaxResults(int64(pageSize)).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *youtube.PlaylistItemListResponse
		err := retry.Do(ctx, "list channel uploads", listRetryPolicy, isRetryable, func(ctx context.Context) error {
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			publishedAt, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
			if err != nil || !publishedAt.After(since) {
				continue
			}
			ids = append(ids, item.Snippet.ResourceId.VideoId)
		}

		remaining -= len(resp.Items)
		pageToken = resp.NextPageToken
		if pageToken == "" || len(resp.Items) == 0 {
			break
		}
	}
	return ids, nil
}

// fetchVideoDetails loads full snippets for the given IDs in batches. Failed
// batches are logged and skipped; absent entries mean the video is dropped
// from the run.
func (c *Client) fetchVideoDetails(ctx context.Context, ids []string) map[string]*youtube.Video {
	details := make(map[string]*youtube.Video, len(ids))

	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		call := c.service.Videos.List([]string{"snippet"}).
			Id(strings.Join(ids[i:end], ",")).
			Context(ctx)

		var resp *youtube.VideoListResponse
		err := retry.Do(ctx, "fetch video details", listRetryPolicy, isRetryable, func(ctx context.Context) error {
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			log.WithError(err).Warnf("Failed to fetch details for a batch of %d videos, skipping", end-i)
			continue
		}

		for _, item := range resp.Items {
			details[item.Id] = item
		}
	}

	return details
}

// isAuthError reports whether the Data API rejected our credentials.
func isAuthError(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return true
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusUnauthorized {
		return true
	}
	if apiErr.Code == http.StatusForbidden {
		for _, item := range apiErr.Errors {
			if item.Reason == "authError" || item.Reason == "insufficientPermissions" {
				return true
			}
		}
	}
	return false
}

// isQuotaError reports whether the API refused the call for quota reasons.
func isQuotaError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code != http.StatusForbidden && apiErr.Code != http.StatusTooManyRequests {
		return false
	}
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

// isRetryable reports whether a Data API call is worth another attempt.
// Rate limits, server-side failures and transport errors qualify.
func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
