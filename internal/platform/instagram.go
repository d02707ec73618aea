package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"replyflow/internal/model"
)

// InstagramClient adapts the Instagram Graph API. The account_id is the
// IG business account ID; comments come nested under recent media.
type InstagramClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Creds      CredentialsResolver
	PageSize   int
}

func NewInstagramClient(creds CredentialsResolver, pageSize int) *InstagramClient {
	return &InstagramClient{
		BaseURL:    graphBaseURL,
		HTTPClient: newHTTPClient(),
		Creds:      creds,
		PageSize:   pageSize,
	}
}

var _ Adapter = (*InstagramClient)(nil)

func (c *InstagramClient) Platform() model.Platform {
	return model.PlatformInstagram
}

type igMediaList struct {
	Data []struct {
		ID       string `json:"id"`
		Comments struct {
			Data []struct {
				ID        string    `json:"id"`
				Username  string    `json:"username"`
				Text      string    `json:"text"`
				Timestamp time.Time `json:"timestamp"`
			} `json:"data"`
		} `json:"comments"`
	} `json:"data"`
}

func (c *InstagramClient) FetchNewComments(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, "", err
	}

	params := url.Values{}
	params.Set("fields", "id,comments.limit(50){id,username,text,timestamp}")
	params.Set("limit", fmt.Sprint(c.PageSize))
	params.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/media?%s", c.BaseURL, account.AccountID, params.Encode()), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	var media igMediaList
	if _, err := doJSON(c.HTTPClient, req, &media); err != nil {
		return nil, "", fmt.Errorf("fetch instagram comments: %w", err)
	}

	var comments []model.RawComment
	for _, m := range media.Data {
		for _, cm := range m.Comments.Data {
			comments = append(comments, model.RawComment{
				PlatformCommentID: cm.ID,
				ParentPostID:      m.ID,
				Author:            cm.Username,
				Body:              cm.Text,
				PostedAt:          cm.Timestamp,
			})
		}
	}

	comments = filterSinceCursor(comments, parseTimestampCursor(cursor))
	return comments, advanceTimestampCursor(cursor, comments), nil
}

func (c *InstagramClient) PostReply(ctx context.Context, account *model.Account, platformCommentID, text string) (*Receipt, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("message", text)
	form.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/replies", c.BaseURL, platformCommentID),
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var created struct {
		ID string `json:"id"`
	}
	if _, err := doJSON(c.HTTPClient, req, &created); err != nil {
		return nil, fmt.Errorf("post instagram reply: %w", err)
	}

	return &Receipt{PlatformReplyID: created.ID, PostedAt: time.Now().UTC()}, nil
}

// RateLimitStatus shares Facebook's X-App-Usage accounting; both ride the
// same Graph API budget.
func (c *InstagramClient) RateLimitStatus(ctx context.Context, account *model.Account) (*RateLimit, error) {
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
		return nil, fmt.Errorf("instagram rate limit status: %w", err)
	}

	return graphUsageRateLimit(resp.Header), nil
}
