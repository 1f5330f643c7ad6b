package riot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"tft-tracker/internal/config"
	"tft-tracker/internal/constants"
	"tft-tracker/internal/domain"

	"github.com/sethvargo/go-retry"
	"github.com/valyala/fasthttp"
)

const (
	queueTypeSolo     = "RANKED_TFT"
	queueTypeDoubleUp = "RANKED_TFT_DOUBLE_UP"
)

type Client struct {
	apiKey      string
	client      *fasthttp.Client
	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	AppLimit  string    `json:"app_limit"`
	AppCount  string    `json:"app_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiKey: cfg.RiotAPIKey,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

func (c *Client) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *Client) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-App-Rate-Limit")); limit != "" {
		c.rateLimit.AppLimit = limit
	}
	if count := string(resp.Header.Peek("X-App-Rate-Limit-Count")); count != "" {
		c.rateLimit.AppCount = count
	}
	c.rateLimit.UpdatedAt = time.Now()
}

// GetPlayerID resolves a riot id (name + tag) to the account puuid.
func (c *Client) GetPlayerID(ctx context.Context, region, name, tag string) (string, error) {
	url := fmt.Sprintf("https://%s.api.riotgames.com/riot/account/v1/accounts/by-riot-id/%s/%s", region, name, tag)
	acc, err := doRequest[accountResponse](ctx, c, url)
	if err != nil {
		return "", err
	}
	if acc.Puuid == "" {
		return "", fmt.Errorf("%w: account response missing puuid", ErrInvalidResponse)
	}
	return acc.Puuid, nil
}

// GetLastMatchID returns the most recent match id for the player, empty
// when no matches exist.
func (c *Client) GetLastMatchID(ctx context.Context, region, puuid string) (string, error) {
	url := fmt.Sprintf("https://%s.api.riotgames.com/tft/match/v1/matches/by-puuid/%s/ids?start=0&count=1", region, puuid)
	ids, err := doRequest[[]string](ctx, c, url)
	if err != nil {
		return "", err
	}
	if len(*ids) == 0 {
		return "", nil
	}
	return (*ids)[0], nil
}

func (c *Client) GetMatchDetails(ctx context.Context, region, matchID string) (*domain.MatchRecord, error) {
	url := fmt.Sprintf("https://%s.api.riotgames.com/tft/match/v1/matches/%s", region, matchID)
	match, err := doRequest[matchResponse](ctx, c, url)
	if err != nil {
		return nil, err
	}
	if match.Metadata.MatchID == "" {
		return nil, fmt.Errorf("%w: match response missing match id", ErrInvalidResponse)
	}

	record := &domain.MatchRecord{
		MatchID: match.Metadata.MatchID,
		QueueID: match.Info.QueueID,
	}
	for _, p := range match.Info.Participants {
		participant := domain.Participant{
			Puuid:          p.Puuid,
			Name:           p.RiotIDGameName,
			Tag:            p.RiotIDTagline,
			Placement:      p.Placement,
			PartnerGroupID: p.PartnerGroupID,
		}
		for _, u := range p.Units {
			participant.Units = append(participant.Units, domain.Unit{
				CharacterID: u.CharacterID,
				Stars:       u.Tier,
				Items:       u.ItemNames,
			})
		}
		record.Participants = append(record.Participants, participant)
	}
	return record, nil
}

// GetRankSnapshots fetches the player's league entries and extracts the
// solo and double-up queues. A missing entry comes back unranked.
func (c *Client) GetRankSnapshots(ctx context.Context, platform, puuid string) (domain.RankSnapshots, error) {
	url := fmt.Sprintf("https://%s.api.riotgames.com/tft/league/v1/by-puuid/%s", platform, puuid)
	entries, err := doRequest[[]leagueEntry](ctx, c, url)
	if err != nil {
		return domain.RankSnapshots{}, err
	}

	var snaps domain.RankSnapshots
	for _, e := range *entries {
		snap := domain.RankSnapshot{Tier: e.Tier, Division: e.Rank, LP: e.LeaguePoints}
		switch e.QueueType {
		case queueTypeSolo:
			snaps.Solo = snap
		case queueTypeDoubleUp:
			snaps.DoubleUp = snap
		}
	}
	return snaps, nil
}

func doRequest[T any](ctx context.Context, client *Client, url string) (*T, error) {
	body, err := client.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidResponse, url, err)
	}
	return &result, nil
}

// get is the single retrying GET primitive every endpoint funnels through.
// 429 and 5xx are retried with exponential backoff, honoring an upstream
// Retry-After hint when present; other 4xx are terminal.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var hint time.Duration
	backoff := retry.WithMaxRetries(constants.APIMaxRetries, &hintedBackoff{
		next: retry.NewExponential(constants.APIRetryBaseDelay),
		hint: &hint,
	})

	var body []byte
	var lastErr error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, apiErr := c.doOnce(ctx, url, &hint)
		if apiErr != nil {
			lastErr = apiErr
			if retryable(apiErr.Kind) {
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}
		body = b
		lastErr = nil
		return nil
	})
	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) doOnce(ctx context.Context, url string, hint *time.Duration) ([]byte, *APIError) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("X-Riot-Token", c.apiKey)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.Do(req, resp)
	}
	if err != nil {
		return nil, &APIError{Kind: KindUnknown, URL: url, Err: err}
	}

	c.updateRateLimit(resp)

	status := resp.StatusCode()
	if status != fasthttp.StatusOK {
		if after := string(resp.Header.Peek("Retry-After")); after != "" {
			if secs, perr := strconv.Atoi(after); perr == nil && secs > 0 {
				*hint = time.Duration(secs) * time.Second
			}
		}
		return nil, &APIError{Kind: classifyStatus(status), Status: status, URL: url}
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

// hintedBackoff defers to an exponential backoff but substitutes the
// server-supplied Retry-After delay for the next attempt when one was seen.
type hintedBackoff struct {
	next retry.Backoff
	hint *time.Duration
}

func (b *hintedBackoff) Next() (time.Duration, bool) {
	d, stop := b.next.Next()
	if stop {
		return 0, true
	}
	if *b.hint > 0 {
		d = *b.hint
		*b.hint = 0
	}
	return d, false
}

type accountResponse struct {
	Puuid    string `json:"puuid"`
	GameName string `json:"gameName"`
	TagLine  string `json:"tagLine"`
}

type matchResponse struct {
	Metadata struct {
		MatchID string `json:"match_id"`
	} `json:"metadata"`
	Info struct {
		QueueID      int `json:"queue_id"`
		Participants []struct {
			Puuid          string `json:"puuid"`
			RiotIDGameName string `json:"riotIdGameName"`
			RiotIDTagline  string `json:"riotIdTagline"`
			Placement      int    `json:"placement"`
			PartnerGroupID int    `json:"partner_group_id"`
			Units          []struct {
				CharacterID string   `json:"character_id"`
				Tier        int      `json:"tier"`
				ItemNames   []string `json:"itemNames"`
			} `json:"units"`
		} `json:"participants"`
	} `json:"info"`
}

type leagueEntry struct {
	QueueType    string `json:"queueType"`
	Tier         string `json:"tier"`
	Rank         string `json:"rank"`
	LeaguePoints int    `json:"leaguePoints"`
}
