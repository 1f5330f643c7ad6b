package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"tft-tracker/internal/cache"
	"tft-tracker/internal/card"
	"tft-tracker/internal/config"
	"tft-tracker/internal/constants"
	"tft-tracker/internal/domain"
	"tft-tracker/internal/riot"

	"github.com/rs/zerolog"
)

// ErrHalted is returned by Run after an unauthorized credential stopped the
// loop for good.
var ErrHalted = errors.New("tracker halted: api credential rejected")

type RiotAPI interface {
	GetLastMatchID(ctx context.Context, region, puuid string) (string, error)
	GetMatchDetails(ctx context.Context, region, matchID string) (*domain.MatchRecord, error)
	GetRankSnapshots(ctx context.Context, platform, puuid string) (domain.RankSnapshots, error)
}

type PlayerStore interface {
	ListTrackedPlayers(ctx context.Context) ([]domain.TrackedPlayer, error)
	GetTrackedPlayer(ctx context.Context, puuid string) (*domain.TrackedPlayer, error)
	SetLastSeenMatch(ctx context.Context, puuid, matchID string) (bool, error)
	ApplyRankUpdate(ctx context.Context, puuid string, snaps domain.RankSnapshots) (domain.DeltaResults, error)
}

type HistoryStore interface {
	Append(ctx context.Context, entries []domain.RankHistoryEntry) error
}

type Notifier interface {
	Send(ctx context.Context, n domain.Notification) error
}

type CardRenderer interface {
	Render(c card.Card) ([]byte, error)
}

type State int

const (
	StateIdle State = iota
	StateRunning
	StateHalted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

type Status struct {
	State               string    `json:"state"`
	BackoffFailures     int       `json:"backoff_failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TicksCompleted      int64     `json:"ticks_completed"`
	LastTickAt          time.Time `json:"last_tick_at"`
}

// Tracker is the poll scheduler: it fetches the tracked roster each tick,
// drives per-player processing and owns the dedup cache, the single-flight
// flag and the failure counters.
type Tracker struct {
	riot     RiotAPI
	store    PlayerStore
	history  HistoryStore
	cache    *cache.MatchCache
	notifier Notifier
	renderer CardRenderer
	logger   zerolog.Logger
	interval time.Duration

	mu                  sync.Mutex
	state               State
	inFlight            bool
	backoffFailures     int
	consecutiveFailures int
	unhealthyAlerted    bool
	ticksCompleted      int64
	lastTickAt          time.Time
}

func NewTracker(
	cfg *config.Config,
	api RiotAPI,
	store PlayerStore,
	history HistoryStore,
	matchCache *cache.MatchCache,
	notifier Notifier,
	renderer CardRenderer,
	logger zerolog.Logger,
) *Tracker {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}
	return &Tracker{
		riot:     api,
		store:    store,
		history:  history,
		cache:    matchCache,
		notifier: notifier,
		renderer: renderer,
		logger:   logger.With().Str("component", "tracker").Logger(),
		interval: interval,
	}
}

// Run drives the scheduler loop until the context is cancelled or the
// credential is rejected. Cancellation is cooperative: it is observed at
// tick boundaries and between players, never mid-request.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info().Dur("interval", t.interval).Msg("tracker started")

	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.setState(StateStopped)
			t.logger.Info().Msg("tracker stopped")
			return ctx.Err()
		case <-timer.C:
			if !t.beginTick() {
				// a tick fired while the previous one is still running:
				// dropped, not queued
				timer.Reset(t.interval)
				continue
			}
			halted := t.runTick(ctx)
			t.endTick()
			if halted {
				return ErrHalted
			}
			if ctx.Err() != nil {
				t.setState(StateStopped)
				t.logger.Info().Msg("tracker stopped")
				return ctx.Err()
			}
			timer.Reset(t.nextDelay())
		}
	}
}

func (t *Tracker) beginTick() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight {
		return false
	}
	t.inFlight = true
	return true
}

func (t *Tracker) endTick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight = false
	t.ticksCompleted++
	t.lastTickAt = time.Now()
}

func (t *Tracker) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		State:               t.state.String(),
		BackoffFailures:     t.backoffFailures,
		ConsecutiveFailures: t.consecutiveFailures,
		TicksCompleted:      t.ticksCompleted,
		LastTickAt:          t.lastTickAt,
	}
}

// nextDelay doubles the base interval per all-failed tick, capped.
func (t *Tracker) nextDelay() time.Duration {
	t.mu.Lock()
	failures := t.backoffFailures
	t.mu.Unlock()

	delay := t.interval
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= constants.MaxBackoffCap {
			return constants.MaxBackoffCap
		}
	}
	return delay
}

type tickState struct {
	notified map[string]bool
}

func newTickState() *tickState {
	return &tickState{notified: make(map[string]bool)}
}

// runTick processes the whole roster once. Returns true when the scheduler
// must halt (credential rejected).
func (t *Tracker) runTick(ctx context.Context) bool {
	t.setState(StateRunning)
	defer func() {
		if t.State() == StateRunning {
			t.setState(StateIdle)
		}
	}()

	tick := newTickState()

	listCtx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	players, err := t.store.ListTrackedPlayers(listCtx)
	cancel()
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to list tracked players")
		t.recordTickResult(ctx, 1, 0, 1)
		return false
	}

	successes, failures := 0, 0
	for _, p := range players {
		if ctx.Err() != nil {
			t.logger.Info().Msg("cancellation observed mid-tick, finishing early")
			break
		}
		if tick.notified[p.Puuid] {
			// already covered as a teammate earlier this tick
			continue
		}

		outcome, err := t.processPlayer(ctx, p, tick)
		if err != nil {
			if riot.IsUnauthorized(err) {
				t.halt(err)
				return true
			}
			failures++
			t.logger.Error().
				Err(err).
				Str("puuid", p.Puuid).
				Str("riot_id", p.RiotID()).
				Str("kind", riot.Classify(err).String()).
				Msg("player processing failed, continuing with next player")
			continue
		}

		successes++
		t.logger.Debug().
			Str("puuid", p.Puuid).
			Str("outcome", outcome.String()).
			Msg("player processed")
	}

	if swept := t.cache.SweepExpired(); swept > 0 {
		t.logger.Debug().Int("swept", swept).Msg("expired cache entries removed")
	}

	t.recordTickResult(ctx, len(players), successes, failures)
	return false
}

func (t *Tracker) recordTickResult(ctx context.Context, total, successes, failures int) {
	t.mu.Lock()
	if failures == 0 {
		t.backoffFailures = 0
	} else if successes == 0 {
		// partial failure leaves the backoff counter alone
		t.backoffFailures++
	}

	unhealthy := false
	if successes > 0 || failures == 0 {
		t.consecutiveFailures = 0
		t.unhealthyAlerted = false
	} else {
		t.consecutiveFailures++
		if t.consecutiveFailures >= constants.UnhealthyThreshold && !t.unhealthyAlerted {
			t.unhealthyAlerted = true
			unhealthy = true
		}
	}
	backoff := t.backoffFailures
	consecutive := t.consecutiveFailures
	t.mu.Unlock()

	t.logger.Info().
		Int("players", total).
		Int("successes", successes).
		Int("failures", failures).
		Int("backoff_failures", backoff).
		Int("consecutive_failures", consecutive).
		Msg("tick completed")

	if unhealthy {
		t.sendAlert(ctx, "Tracker unhealthy: every player failed for "+
			"several consecutive ticks. Check logs and upstream API status.")
	}
}

func (t *Tracker) halt(cause error) {
	t.setState(StateHalted)
	t.logger.Error().Err(cause).Msg("unauthorized response from api, halting tracker")

	// the credential is shared, so this is a global condition
	ctx, cancel := context.WithTimeout(context.Background(), constants.RequestTimeout)
	defer cancel()
	t.sendAlert(ctx, "Riot API credential rejected (401). Match tracking halted until restart with a valid key.")
}

func (t *Tracker) sendAlert(ctx context.Context, text string) {
	if err := t.notifier.Send(ctx, domain.Notification{Text: text, Alert: true}); err != nil {
		t.logger.Error().Err(err).Msg("failed to deliver alert")
	}
}

type outcome int

const (
	outcomeNoNewMatch outcome = iota
	outcomeSkipped
	outcomeNotified
)

func (o outcome) String() string {
	switch o {
	case outcomeNotified:
		return "notified"
	case outcomeSkipped:
		return "skipped"
	default:
		return "no_new_match"
	}
}

// processPlayer handles one roster entry: detect a new match, fetch details
// through the cache, notify, advance the last-seen pointer. NotFound from
// the upstream is absorbed as a skip; everything else propagates classified.
func (t *Tracker) processPlayer(ctx context.Context, p domain.TrackedPlayer, tick *tickState) (outcome, error) {
	apiCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	last, err := t.riot.GetLastMatchID(apiCtx, p.Region, p.Puuid)
	cancel()
	if err != nil {
		if riot.IsNotFound(err) {
			return outcomeSkipped, nil
		}
		return outcomeSkipped, err
	}
	if last == "" {
		return outcomeNoNewMatch, nil
	}
	if p.LastMatchID != nil && *p.LastMatchID == last {
		return outcomeNoNewMatch, nil
	}

	record, err := t.matchDetails(ctx, p.Puuid, p.Region, last)
	if err != nil {
		if riot.IsNotFound(err) {
			return outcomeSkipped, nil
		}
		return outcomeSkipped, err
	}

	entry := record.Participant(p.Puuid)
	if entry == nil {
		// the pointer still advances so a malformed match is not refetched
		// forever
		t.logger.Warn().Str("puuid", p.Puuid).Str("match_id", last).
			Msg("player missing from match participants, skipping")
		t.advancePointer(ctx, p.Puuid, last)
		return outcomeSkipped, nil
	}

	mode := domain.ClassifyQueue(record.QueueID)
	notif, mate, err := t.buildNotification(ctx, &p, record, entry, mode, tick)
	if err != nil {
		return outcomeSkipped, err
	}

	// best-effort delivery: a channel failure is logged, never retried
	sendCtx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	if err := t.notifier.Send(sendCtx, notif); err != nil {
		t.logger.Error().Err(err).Str("puuid", p.Puuid).Str("match_id", last).
			Msg("failed to deliver match notification")
	}
	cancel()

	t.advancePointer(ctx, p.Puuid, last)
	tick.notified[p.Puuid] = true
	if mate != nil {
		// the mate may already have been processed as a primary earlier
		// this tick for a newer match; their pointer never moves backwards
		if !tick.notified[mate.Puuid] {
			t.advancePointer(ctx, mate.Puuid, last)
		}
		tick.notified[mate.Puuid] = true
	}
	return outcomeNotified, nil
}

// matchDetails consults the dedup cache before any upstream fetch and
// records a fresh payload once, keyed by match id.
func (t *Tracker) matchDetails(ctx context.Context, ownerPuuid, region, matchID string) (*domain.MatchRecord, error) {
	if entry := t.cache.Get(matchID); entry != nil {
		t.logger.Debug().Str("match_id", matchID).Msg("match served from cache")
		return entry.Record, nil
	}

	apiCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	record, err := t.riot.GetMatchDetails(apiCtx, region, matchID)
	if err != nil {
		return nil, err
	}
	t.cache.Put(matchID, ownerPuuid, record)
	return record, nil
}

func (t *Tracker) advancePointer(ctx context.Context, puuid, matchID string) {
	dbCtx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	ok, err := t.store.SetLastSeenMatch(dbCtx, puuid, matchID)
	if err != nil {
		t.logger.Error().Err(err).Str("puuid", puuid).Msg("failed to advance last-seen match")
		return
	}
	if !ok {
		t.logger.Warn().Str("puuid", puuid).Msg("last-seen update matched no row")
	}
}
