package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"relic-crawler/internal/config"
	"relic-crawler/internal/domain"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Client talks to the community leaderboard API. Every call goes
// through the shared RateLimiter. Payloads are decoded generically:
// the upstream renames and drops fields between versions, so typed
// decoding happens later in the tolerant normalizer.
type Client struct {
	baseURL string
	title   string
	http    *fasthttp.Client
	limiter *RateLimiter
	logger  zerolog.Logger
}

func NewClient(cfg *config.Config, limiter *RateLimiter, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.APIBaseURL,
		title:   cfg.Title,
		http: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// RecentMatchHistoryByAlias fetches the recent match history keyed by a
// single alias string.
func (c *Client) RecentMatchHistoryByAlias(ctx context.Context, alias string, count int) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/community/leaderboard/getRecentMatchHistory?title=%s&aliases=%s&count=%d",
		c.baseURL, url.QueryEscape(c.title), jsonArrayParam(alias), count)
	return c.fetch(ctx, endpoint)
}

// RecentMatchHistoryByProfileID fetches the recent match history keyed
// by a numeric profile id.
func (c *Client) RecentMatchHistoryByProfileID(ctx context.Context, profileID string, count int) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/community/leaderboard/getRecentMatchHistoryByProfileId?title=%s&profile_ids=%s&count=%d",
		c.baseURL, url.QueryEscape(c.title), url.QueryEscape("["+profileID+"]"), count)
	return c.fetch(ctx, endpoint)
}

// PersonalStat fetches the personal stat groups for one player, keyed
// by a "/steam/{steamId64}" identifier.
func (c *Client) PersonalStat(ctx context.Context, steamID64 string) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/community/leaderboard/getPersonalStat?title=%s&profile_names=%s",
		c.baseURL, url.QueryEscape(c.title), jsonArrayParam("/steam/"+steamID64))
	return c.fetch(ctx, endpoint)
}

func (c *Client) fetch(ctx context.Context, endpoint string) (map[string]any, error) {
	if err := c.limiter.Allow(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)

	start := time.Now()
	deadline, ok := ctx.Deadline()
	if ok {
		if err := c.http.DoDeadline(req, resp, deadline); err != nil {
			return nil, fmt.Errorf("upstream request failed: %w", err)
		}
	} else {
		if err := c.http.Do(req, resp); err != nil {
			return nil, fmt.Errorf("upstream request failed: %w", err)
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("upstream request completed")

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, &domain.APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	c.limiter.RecordAndPace()

	var payload map[string]any
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode upstream response: %w", err)
	}
	return payload, nil
}

// jsonArrayParam encodes a single string as the JSON array query value
// the upstream expects, e.g. ["name"].
func jsonArrayParam(s string) string {
	raw, _ := json.Marshal([]string{s})
	return url.QueryEscape(string(raw))
}
