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

const twitterBaseURL = "https://api.twitter.com"

// TwitterClient adapts the X API v2. The account_id is the numeric user
// ID; mentions of the account count as comments, and the cursor is the
// newest tweet ID already seen (since_id paging, so no timestamp math).
type TwitterClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Creds      CredentialsResolver
	PageSize   int
}

func NewTwitterClient(creds CredentialsResolver, pageSize int) *TwitterClient {
	return &TwitterClient{
		BaseURL:    twitterBaseURL,
		HTTPClient: newHTTPClient(),
		Creds:      creds,
		PageSize:   pageSize,
	}
}

var _ Adapter = (*TwitterClient)(nil)

func (c *TwitterClient) Platform() model.Platform {
	return model.PlatformTwitter
}

type twMentionList struct {
	Data []struct {
		ID             string    `json:"id"`
		Text           string    `json:"text"`
		AuthorID       string    `json:"author_id"`
		CreatedAt      time.Time `json:"created_at"`
		ConversationID string    `json:"conversation_id"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
	Meta struct {
		NewestID string `json:"newest_id"`
	} `json:"meta"`
}

func (c *TwitterClient) FetchNewComments(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, "", err
	}

	params := url.Values{}
	params.Set("max_results", fmt.Sprint(c.PageSize))
	params.Set("tweet.fields", "author_id,created_at,conversation_id")
	params.Set("expansions", "author_id")
	if cursor != "" {
		params.Set("since_id", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/2/users/%s/mentions?%s", c.BaseURL, account.AccountID, params.Encode()), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var mentions twMentionList
	if _, err := doJSON(c.HTTPClient, req, &mentions); err != nil {
		return nil, "", fmt.Errorf("fetch twitter mentions: %w", err)
	}

	usernames := make(map[string]string, len(mentions.Includes.Users))
	for _, u := range mentions.Includes.Users {
		usernames[u.ID] = u.Username
	}

	// Mentions arrive newest first; reverse into oldest-first order.
	comments := make([]model.RawComment, 0, len(mentions.Data))
	for i := len(mentions.Data) - 1; i >= 0; i-- {
		tw := mentions.Data[i]
		comments = append(comments, model.RawComment{
			PlatformCommentID: tw.ID,
			ParentPostID:      tw.ConversationID,
			Author:            usernames[tw.AuthorID],
			Body:              tw.Text,
			PostedAt:          tw.CreatedAt,
		})
	}

	next := cursor
	if mentions.Meta.NewestID != "" {
		next = mentions.Meta.NewestID
	}
	return comments, next, nil
}

func (c *TwitterClient) PostReply(ctx context.Context, account *model.Account, platformCommentID, text string) (*Receipt, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"text": text,
		"reply": map[string]string{
			"in_reply_to_tweet_id": platformCommentID,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if _, err := doJSON(c.HTTPClient, req, &created); err != nil {
		return nil, fmt.Errorf("post twitter reply: %w", err)
	}

	return &Receipt{PlatformReplyID: created.Data.ID, PostedAt: time.Now().UTC()}, nil
}

// RateLimitStatus reads the x-rate-limit-* headers off a cheap lookup.
func (c *TwitterClient) RateLimitStatus(ctx context.Context, account *model.Account) (*RateLimit, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/2/users/%s", c.BaseURL, account.AccountID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := doJSON(c.HTTPClient, req, nil)
	if err != nil {
		return nil, fmt.Errorf("twitter rate limit status: %w", err)
	}

	return headerRateLimit(resp.Header), nil
}
