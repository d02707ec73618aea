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

const linkedinBaseURL = "https://api.linkedin.com/v2"

// LinkedInClient adapts the LinkedIn REST API for an organization. The
// account_id is the numeric organization ID; comments are read per post
// through socialActions.
type LinkedInClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Creds      CredentialsResolver
	PageSize   int
}

func NewLinkedInClient(creds CredentialsResolver, pageSize int) *LinkedInClient {
	return &LinkedInClient{
		BaseURL:    linkedinBaseURL,
		HTTPClient: newHTTPClient(),
		Creds:      creds,
		PageSize:   pageSize,
	}
}

var _ Adapter = (*LinkedInClient)(nil)

func (c *LinkedInClient) Platform() model.Platform {
	return model.PlatformLinkedIn
}

func (c *LinkedInClient) orgURN(account *model.Account) string {
	return "urn:li:organization:" + account.AccountID
}

type liPostList struct {
	Elements []struct {
		ID string `json:"id"`
	} `json:"elements"`
}

type liCommentList struct {
	Elements []struct {
		URN     string `json:"$URN"`
		Actor   string `json:"actor"`
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
		Created struct {
			Time int64 `json:"time"` // epoch millis
		} `json:"created"`
	} `json:"elements"`
}

func (c *LinkedInClient) FetchNewComments(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, "", err
	}

	params := url.Values{}
	params.Set("q", "authors")
	params.Set("authors", fmt.Sprintf("List(%s)", c.orgURN(account)))
	params.Set("count", fmt.Sprint(c.PageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/ugcPosts?"+params.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var posts liPostList
	if _, err := doJSON(c.HTTPClient, req, &posts); err != nil {
		return nil, "", fmt.Errorf("fetch linkedin posts: %w", err)
	}

	var comments []model.RawComment
	for _, post := range posts.Elements {
		postComments, err := c.fetchPostComments(ctx, token, post.ID)
		if err != nil {
			return nil, "", err
		}
		comments = append(comments, postComments...)
	}

	comments = filterSinceCursor(comments, parseTimestampCursor(cursor))
	return comments, advanceTimestampCursor(cursor, comments), nil
}

func (c *LinkedInClient) fetchPostComments(ctx context.Context, token, postID string) ([]model.RawComment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/socialActions/%s/comments?count=50", c.BaseURL, url.PathEscape(postID)), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var list liCommentList
	if _, err := doJSON(c.HTTPClient, req, &list); err != nil {
		return nil, fmt.Errorf("fetch linkedin comments: %w", err)
	}

	comments := make([]model.RawComment, 0, len(list.Elements))
	for _, el := range list.Elements {
		comments = append(comments, model.RawComment{
			PlatformCommentID: el.URN,
			ParentPostID:      postID,
			Author:            el.Actor,
			Body:              el.Message.Text,
			PostedAt:          time.UnixMilli(el.Created.Time).UTC(),
		})
	}
	return comments, nil
}

func (c *LinkedInClient) PostReply(ctx context.Context, account *model.Account, platformCommentID, text string) (*Receipt, error) {
	token, err := c.Creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"actor":         c.orgURN(account),
		"parentComment": platformCommentID,
		"message":       map[string]string{"text": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/socialActions/%s/comments", c.BaseURL, url.PathEscape(platformCommentID)),
		bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var created struct {
		URN string `json:"$URN"`
	}
	if _, err := doJSON(c.HTTPClient, req, &created); err != nil {
		return nil, fmt.Errorf("post linkedin reply: %w", err)
	}

	return &Receipt{PlatformReplyID: created.URN, PostedAt: time.Now().UTC()}, nil
}

// RateLimitStatus: LinkedIn only communicates throttling through 429
// responses, so there is no budget to report.
func (c *LinkedInClient) RateLimitStatus(ctx context.Context, account *model.Account) (*RateLimit, error) {
	return &RateLimit{Remaining: -1}, nil
}
