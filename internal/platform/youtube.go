package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"replyflow/internal/model"
)

const youtubeBaseURL = "https://www.googleapis.com/youtube/v3"

// YouTubeClient adapts the YouTube Data API v3. The account_id is the
// channel ID; comments are pulled across all of the channel's videos via
// commentThreads.
type YouTubeClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Creds      CredentialsResolver
	PageSize   int
}

func NewYouTubeClient(creds CredentialsResolver, pageSize int) *YouTubeClient {
	return &YouTubeClient{
		BaseURL:    youtubeBaseURL,
		HTTPClient: newHTTPClient(),
		Creds:      creds,
		PageSize:   pageSize,
	}
}

var _ Adapter = (*YouTubeClient)(nil)

func (c *YouTubeClient) Platform() model.Platform {
	return model.PlatformYouTube
}

type ytThreadList struct {
	Items []struct {
		Snippet struct {
			VideoID         string `json:"videoId"`
			TopLevelComment struct {
				ID      string `json:"id"`
				Snippet struct {
					AuthorDisplayName string    `json:"authorDisplayName"`
					TextOriginal      string    `json:"textOriginal"`
					PublishedAt       time.Time `json:"publishedAt"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	} `json:"items"`
}

func (c *YouTubeClient) FetchNewComments(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, "", err
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("allThreadsRelatedToChannelId", account.AccountID)
	params.Set("order", "time")
	params.Set("maxResults", fmt.Sprint(c.PageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/commentThreads?"+params.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var list ytThreadList
	if _, err := doJSON(c.HTTPClient, req, &list); err != nil {
		return nil, "", fmt.Errorf("fetch youtube comments: %w", err)
	}

	comments := make([]model.RawComment, 0, len(list.Items))
	for _, item := range list.Items {
		top := item.Snippet.TopLevelComment
		comments = append(comments, model.RawComment{
			PlatformCommentID: top.ID,
			ParentPostID:      item.Snippet.VideoID,
			Author:            top.Snippet.AuthorDisplayName,
			Body:              top.Snippet.TextOriginal,
			PostedAt:          top.Snippet.PublishedAt,
		})
	}

	comments = filterSinceCursor(comments, parseTimestampCursor(cursor))
	return comments, advanceTimestampCursor(cursor, comments), nil
}

func (c *YouTubeClient) PostReply(ctx context.Context, account *model.Account, platformCommentID, text string) (*Receipt, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"snippet": map[string]string{
			"parentId":     platformCommentID,
			"textOriginal": text,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/comments?part=snippet", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var created struct {
		ID string `json:"id"`
	}
	if _, err := doJSON(c.HTTPClient, req, &created); err != nil {
		return nil, fmt.Errorf("post youtube reply: %w", err)
	}

	return &Receipt{PlatformReplyID: created.ID, PostedAt: time.Now().UTC()}, nil
}

// RateLimitStatus: the Data API accounts quota server-side and only
// signals exhaustion with 403 quotaExceeded, so there is no budget to
// report ahead of time.
func (c *YouTubeClient) RateLimitStatus(ctx context.Context, account *model.Account) (*RateLimit, error) {
	return &RateLimit{Remaining: -1}, nil
}
