package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"replyflow/internal/model"
)

const graphBaseURL = "https://graph.facebook.com/v19.0"

// FacebookClient adapts the Graph API for a page. The account_id is the
// page ID; comments are pulled nested under the page's recent feed in a
// single call.
type FacebookClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Creds      CredentialsResolver
	PageSize   int
}

func NewFacebookClient(creds CredentialsResolver, pageSize int) *FacebookClient {
	return &FacebookClient{
		BaseURL:    graphBaseURL,
		HTTPClient: newHTTPClient(),
		Creds:      creds,
		PageSize:   pageSize,
	}
}

var _ Adapter = (*FacebookClient)(nil)

func (c *FacebookClient) Platform() model.Platform {
	return model.PlatformFacebook
}

type graphFeed struct {
	Data []struct {
		ID       string `json:"id"`
		Comments struct {
			Data []graphComment `json:"data"`
		} `json:"comments"`
	} `json:"data"`
}

type graphComment struct {
	ID   string `json:"id"`
	From struct {
		Name string `json:"name"`
	} `json:"from"`
	Message     string    `json:"message"`
	CreatedTime time.Time `json:"created_time"`
}

func (c *FacebookClient) FetchNewComments(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, "", err
	}

	params := url.Values{}
	params.Set("fields", "id,comments.limit(50){id,from,message,created_time}")
	params.Set("limit", fmt.Sprint(c.PageSize))
	params.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/feed?%s", c.BaseURL, account.AccountID, params.Encode()), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	var feed graphFeed
	if _, err := doJSON(c.HTTPClient, req, &feed); err != nil {
		return nil, "", fmt.Errorf("fetch facebook comments: %w", err)
	}

	var comments []model.RawComment
	for _, post := range feed.Data {
		for _, cm := range post.Comments.Data {
			comments = append(comments, model.RawComment{
				PlatformCommentID: cm.ID,
				ParentPostID:      post.ID,
				Author:            cm.From.Name,
				Body:              cm.Message,
				PostedAt:          cm.CreatedTime,
			})
		}
	}

	comments = filterSinceCursor(comments, parseTimestampCursor(cursor))
	return comments, advanceTimestampCursor(cursor, comments), nil
}

func (c *FacebookClient) PostReply(ctx context.Context, account *model.Account, platformCommentID, text string) (*Receipt, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("message", text)
	form.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/comments", c.BaseURL, platformCommentID),
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var created struct {
		ID string `json:"id"`
	}
	if _, err := doJSON(c.HTTPClient, req, &created); err != nil {
		return nil, fmt.Errorf("post facebook reply: %w", err)
	}

	return &Receipt{PlatformReplyID: created.ID, PostedAt: time.Now().UTC()}, nil
}

// RateLimitStatus reads the X-App-Usage header the Graph API attaches to
// every response. call_count is a percentage of the app's budget.
func (c *FacebookClient) RateLimitStatus(ctx context.Context, account *model.Account) (*RateLimit, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s?fields=id&access_token=%s", c.BaseURL, account.AccountID, url.QueryEscape(token)), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := doJSON(c.HTTPClient, req, nil)
	if err != nil {
		return nil, fmt.Errorf("facebook rate limit status: %w", err)
	}

	return graphUsageRateLimit(resp.Header), nil
}

// graphUsageRateLimit converts Graph's percentage-based usage header into
// a remaining-calls figure (percent of budget left).
func graphUsageRateLimit(h http.Header) *RateLimit {
	raw := h.Get("X-App-Usage")
	if raw == "" {
		return &RateLimit{Remaining: -1}
	}
	var usage struct {
		CallCount int `json:"call_count"`
	}
	if err := json.Unmarshal([]byte(raw), &usage); err != nil {
		return &RateLimit{Remaining: -1}
	}
	remaining := 100 - usage.CallCount
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimit{Remaining: remaining}
}
