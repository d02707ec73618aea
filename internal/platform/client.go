package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"replyflow/internal/model"
)

const defaultRequestTimeout = 15 * time.Second

// EnvCredentialsResolver treats the credentials_ref as the name of an
// environment variable holding the token. Secret managers can slot in
// behind the same interface.
type EnvCredentialsResolver struct{}

func (EnvCredentialsResolver) Resolve(_ context.Context, ref string) (string, error) {
	token := os.Getenv(ref)
	if token == "" {
		return "", fmt.Errorf("%w: credential %q not set", model.ErrAuthFailed, ref)
	}
	return token, nil
}

// newHTTPClient returns the shared client shape for all adapters. Each
// external call carries a bounded timeout; exceeding it surfaces as a
// transient network error.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultRequestTimeout}
}

// doJSON performs the request, maps HTTP status codes onto the error
// taxonomy and decodes a JSON body into out (when out is non-nil).
func doJSON(client *http.Client, req *http.Request, out interface{}) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable.
		return nil, fmt.Errorf("%w: %v", model.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return resp, err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return resp, nil
}

// statusError maps platform HTTP responses onto the shared taxonomy:
// 429 -> rate limited, 401/403 -> auth, 5xx -> transient.
func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w (reset in %s)", model.ErrRateLimited, resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", model.ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", model.ErrTransientNetwork, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// headerRateLimit reads the conventional x-rate-limit-* headers that
// Twitter-style APIs attach to every response.
func headerRateLimit(h http.Header) *RateLimit {
	remaining, err := strconv.Atoi(h.Get("x-rate-limit-remaining"))
	if err != nil {
		return &RateLimit{Remaining: -1}
	}
	rl := &RateLimit{Remaining: remaining}
	if reset, err := strconv.ParseInt(h.Get("x-rate-limit-reset"), 10, 64); err == nil {
		rl.ResetAt = time.Unix(reset, 0)
	}
	return rl
}

// timestampCursor encodes fetch progress as the RFC3339 time of the
// newest comment seen. Platforms without since-filters fetch a recent
// window and drop everything strictly older than the cursor.
func parseTimestampCursor(cursor string) time.Time {
	if cursor == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, cursor)
	if err != nil {
		return time.Time{}
	}
	return t
}

// advanceTimestampCursor returns the cursor for the next call: the newest
// posted_at in the batch, or the previous cursor when nothing was newer.
func advanceTimestampCursor(prev string, comments []model.RawComment) string {
	newest := parseTimestampCursor(prev)
	for _, c := range comments {
		if c.PostedAt.After(newest) {
			newest = c.PostedAt
		}
	}
	if newest.IsZero() {
		return prev
	}
	return newest.UTC().Format(time.RFC3339)
}

// filterSinceCursor keeps comments posted at or after the cursor and
// orders them oldest first. The cursor is second-precision, so a
// comment sharing the cursor's second could surface in a later fetch;
// keeping the boundary comment re-delivers it and the store's
// idempotent upsert drops the duplicate.
func filterSinceCursor(comments []model.RawComment, cursor time.Time) []model.RawComment {
	kept := comments[:0]
	for _, c := range comments {
		if cursor.IsZero() || !c.PostedAt.Before(cursor) {
			kept = append(kept, c)
		}
	}
	// Platforms return newest first; the contract wants oldest first.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// IsAccountFatal reports whether the error should disable the account.
func IsAccountFatal(err error) bool {
	return errors.Is(err, model.ErrAuthFailed)
}
