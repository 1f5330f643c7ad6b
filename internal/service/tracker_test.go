package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tft-tracker/internal/cache"
	"tft-tracker/internal/card"
	"tft-tracker/internal/config"
	"tft-tracker/internal/constants"
	"tft-tracker/internal/domain"
	"tft-tracker/internal/repository"
	"tft-tracker/internal/riot"

	"github.com/rs/zerolog"
)

type fakeRiot struct {
	mu           sync.Mutex
	lastMatch    map[string]string
	lastMatchErr map[string]error
	matches      map[string]*domain.MatchRecord
	ranks        map[string]domain.RankSnapshots
	matchFetches int
	lastIDCalls  int
}

func newFakeRiot() *fakeRiot {
	return &fakeRiot{
		lastMatch:    make(map[string]string),
		lastMatchErr: make(map[string]error),
		matches:      make(map[string]*domain.MatchRecord),
		ranks:        make(map[string]domain.RankSnapshots),
	}
}

func (f *fakeRiot) GetLastMatchID(ctx context.Context, region, puuid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastIDCalls++
	if err := f.lastMatchErr[puuid]; err != nil {
		return "", err
	}
	return f.lastMatch[puuid], nil
}

func (f *fakeRiot) GetMatchDetails(ctx context.Context, region, matchID string) (*domain.MatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchFetches++
	record, ok := f.matches[matchID]
	if !ok {
		return nil, &riot.APIError{Kind: riot.KindNotFound, Status: 404, URL: matchID}
	}
	return record, nil
}

func (f *fakeRiot) GetRankSnapshots(ctx context.Context, platform, puuid string) (domain.RankSnapshots, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ranks[puuid], nil
}

type fakeStore struct {
	mu       sync.Mutex
	players  map[string]*domain.TrackedPlayer
	order    []string
	applied  map[string]int
	lastSeen map[string]string
}

func newFakeStore(players ...*domain.TrackedPlayer) *fakeStore {
	s := &fakeStore{
		players:  make(map[string]*domain.TrackedPlayer),
		applied:  make(map[string]int),
		lastSeen: make(map[string]string),
	}
	for _, p := range players {
		s.players[p.Puuid] = p
		s.order = append(s.order, p.Puuid)
	}
	return s
}

func (s *fakeStore) ListTrackedPlayers(ctx context.Context) ([]domain.TrackedPlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TrackedPlayer, 0, len(s.order))
	for _, puuid := range s.order {
		out = append(out, *s.players[puuid])
	}
	return out, nil
}

func (s *fakeStore) GetTrackedPlayer(ctx context.Context, puuid string) (*domain.TrackedPlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[puuid]
	if !ok {
		return nil, repository.ErrPlayerNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *fakeStore) SetLastSeenMatch(ctx context.Context, puuid, matchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[puuid]
	if !ok {
		return false, nil
	}
	id := matchID
	p.LastMatchID = &id
	s.lastSeen[puuid] = matchID
	return true, nil
}

func (s *fakeStore) ApplyRankUpdate(ctx context.Context, puuid string, snaps domain.RankSnapshots) (domain.DeltaResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[puuid]
	if !ok {
		return domain.DeltaResults{}, repository.ErrPlayerNotFound
	}
	s.applied[puuid]++
	res := domain.DeltaResults{
		Solo:     domain.ComputeDelta(p.Solo, snaps.Solo),
		DoubleUp: domain.ComputeDelta(p.DoubleUp, snaps.DoubleUp),
	}
	p.Solo = snaps.Solo
	p.DoubleUp = snaps.DoubleUp
	return res, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []domain.RankHistoryEntry
}

func (h *fakeHistory) Append(ctx context.Context, entries []domain.RankHistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entries...)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *fakeNotifier) Send(ctx context.Context, payload domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, payload)
	return nil
}

func (n *fakeNotifier) alerts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.sent {
		if s.Alert {
			count++
		}
	}
	return count
}

type fakeRenderer struct{}

func (fakeRenderer) Render(c card.Card) ([]byte, error) {
	return []byte("png"), nil
}

type harness struct {
	tracker  *Tracker
	riot     *fakeRiot
	store    *fakeStore
	notifier *fakeNotifier
	history  *fakeHistory
}

func newHarness(players ...*domain.TrackedPlayer) *harness {
	api := newFakeRiot()
	store := newFakeStore(players...)
	notifier := &fakeNotifier{}
	history := &fakeHistory{}
	tracker := NewTracker(
		&config.Config{PollInterval: time.Second},
		api, store, history,
		cache.New(20*time.Minute, 64),
		notifier, fakeRenderer{},
		zerolog.Nop(),
	)
	return &harness{tracker: tracker, riot: api, store: store, notifier: notifier, history: history}
}

func player(puuid, name string) *domain.TrackedPlayer {
	return &domain.TrackedPlayer{
		Puuid:    puuid,
		Region:   "europe",
		Platform: "euw1",
		Name:     name,
		Tag:      "EUW",
	}
}

func withLastSeen(p *domain.TrackedPlayer, matchID string) *domain.TrackedPlayer {
	p.LastMatchID = &matchID
	return p
}

func soloMatch(matchID string, puuids ...string) *domain.MatchRecord {
	record := &domain.MatchRecord{MatchID: matchID, QueueID: domain.QueueRanked}
	for i, puuid := range puuids {
		record.Participants = append(record.Participants, domain.Participant{
			Puuid:     puuid,
			Placement: i + 1,
		})
	}
	return record
}

func TestNoNewMatchMeansNoFetch(t *testing.T) {
	h := newHarness(withLastSeen(player("a", "Alice"), "EUW1_1"))
	h.riot.lastMatch["a"] = "EUW1_1"

	h.tracker.runTick(context.Background())

	if h.riot.matchFetches != 0 {
		t.Errorf("match fetches = %d, want 0 when the latest match is already seen", h.riot.matchFetches)
	}
	if len(h.notifier.sent) != 0 {
		t.Errorf("notifications = %d, want 0", len(h.notifier.sent))
	}
	if got := h.tracker.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestEmptyMatchHistoryIsSkipped(t *testing.T) {
	h := newHarness(player("a", "Alice"))
	h.riot.lastMatch["a"] = ""

	h.tracker.runTick(context.Background())

	if h.riot.matchFetches != 0 {
		t.Errorf("match fetches = %d, want 0", h.riot.matchFetches)
	}
	if len(h.notifier.sent) != 0 {
		t.Errorf("notifications = %d, want 0", len(h.notifier.sent))
	}
}

func TestCacheServesSecondObserver(t *testing.T) {
	h := newHarness(player("a", "Alice"), player("b", "Bob"))
	match := soloMatch("EUW1_9", "a", "b")
	h.riot.matches["EUW1_9"] = match
	h.riot.lastMatch["a"] = "EUW1_9"

	h.tracker.runTick(context.Background())
	if h.riot.matchFetches != 1 {
		t.Fatalf("match fetches = %d, want 1 after first tick", h.riot.matchFetches)
	}

	// next tick, the second player's history catches up to the same match
	h.riot.lastMatch["b"] = "EUW1_9"
	h.tracker.runTick(context.Background())

	if h.riot.matchFetches != 1 {
		t.Errorf("match fetches = %d, want 1: second observer must be served from cache", h.riot.matchFetches)
	}
	if len(h.notifier.sent) != 2 {
		t.Errorf("notifications = %d, want one per player", len(h.notifier.sent))
	}
}

func doubleUpMatch(matchID string) *domain.MatchRecord {
	return &domain.MatchRecord{
		MatchID: matchID,
		QueueID: domain.QueueDoubleUp,
		Participants: []domain.Participant{
			{Puuid: "a", Name: "Alice", Tag: "EUW", Placement: 3, PartnerGroupID: 2},
			{Puuid: "b", Name: "Bob", Tag: "EUW", Placement: 4, PartnerGroupID: 2},
			{Puuid: "x", Name: "Stranger", Tag: "EUW", Placement: 1, PartnerGroupID: 1},
		},
	}
}

func TestDoubleUpPairSingleNotification(t *testing.T) {
	for _, order := range [][2]string{{"a", "b"}, {"b", "a"}} {
		players := map[string]*domain.TrackedPlayer{
			"a": player("a", "Alice"),
			"b": player("b", "Bob"),
		}
		h := newHarness(players[order[0]], players[order[1]])
		h.riot.matches["EUW1_7"] = doubleUpMatch("EUW1_7")
		h.riot.lastMatch["a"] = "EUW1_7"
		h.riot.lastMatch["b"] = "EUW1_7"
		h.riot.ranks["a"] = domain.RankSnapshots{DoubleUp: domain.RankSnapshot{Tier: "GOLD", Division: "II", LP: 10}}
		h.riot.ranks["b"] = domain.RankSnapshots{DoubleUp: domain.RankSnapshot{Tier: "SILVER", Division: "I", LP: 40}}

		h.tracker.runTick(context.Background())

		if len(h.notifier.sent) != 1 {
			t.Fatalf("order %v: notifications = %d, want exactly 1 for a shared match", order, len(h.notifier.sent))
		}
		text := h.notifier.sent[0].Text
		if !strings.Contains(text, "Alice#EUW") || !strings.Contains(text, "Bob#EUW") {
			t.Errorf("order %v: notification %q should reference both teammates", order, text)
		}
		// ceil(3/2) == ceil(4/2) == 2
		if !strings.Contains(text, "2nd") {
			t.Errorf("order %v: notification %q should report team placement 2nd", order, text)
		}
		if h.store.lastSeen["a"] != "EUW1_7" || h.store.lastSeen["b"] != "EUW1_7" {
			t.Errorf("order %v: both pointers should advance, got %v", order, h.store.lastSeen)
		}
		if h.store.applied["a"] != 1 || h.store.applied["b"] != 1 {
			t.Errorf("order %v: both players should get one rank update, got %v", order, h.store.applied)
		}
	}
}

func TestTeammatePointerNeverRegresses(t *testing.T) {
	h := newHarness(player("b", "Bob"), player("a", "Alice"))
	h.riot.matches["EUW1_M2"] = soloMatch("EUW1_M2", "b")
	h.riot.matches["EUW1_M1"] = &domain.MatchRecord{
		MatchID: "EUW1_M1",
		QueueID: domain.QueueDoubleUp,
		Participants: []domain.Participant{
			{Puuid: "a", Name: "Alice", Tag: "EUW", Placement: 3, PartnerGroupID: 1},
			{Puuid: "b", Name: "Bob", Tag: "EUW", Placement: 4, PartnerGroupID: 1},
		},
	}
	// bob already played a newer solo match on top of the shared double-up
	h.riot.lastMatch["b"] = "EUW1_M2"
	h.riot.lastMatch["a"] = "EUW1_M1"

	h.tracker.runTick(context.Background())

	if len(h.notifier.sent) != 2 {
		t.Fatalf("tick 1 notifications = %d, want 2", len(h.notifier.sent))
	}
	if got := h.store.lastSeen["b"]; got != "EUW1_M2" {
		t.Fatalf("bob's pointer = %q, want EUW1_M2: the older shared match must not move it back", got)
	}
	if h.store.applied["b"] != 1 {
		t.Errorf("bob rank updates = %d, want 1: no second update as a teammate", h.store.applied["b"])
	}

	h.tracker.runTick(context.Background())

	if len(h.notifier.sent) != 2 {
		t.Errorf("tick 2 notifications = %d, want still 2: nothing may be re-notified", len(h.notifier.sent))
	}
}

func TestDoubleUpUntrackedTeammate(t *testing.T) {
	h := newHarness(player("a", "Alice"))
	record := &domain.MatchRecord{
		MatchID: "EUW1_8",
		QueueID: domain.QueueDoubleUp,
		Participants: []domain.Participant{
			{Puuid: "a", Name: "Alice", Tag: "EUW", Placement: 5, PartnerGroupID: 3},
			{Puuid: "z", Name: "Rando", Tag: "NA1", Placement: 6, PartnerGroupID: 3},
		},
	}
	h.riot.matches["EUW1_8"] = record
	h.riot.lastMatch["a"] = "EUW1_8"

	h.tracker.runTick(context.Background())

	if len(h.notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notifier.sent))
	}
	text := h.notifier.sent[0].Text
	if !strings.Contains(text, "Rando#NA1") {
		t.Errorf("notification %q should surface the untracked teammate's identity", text)
	}
	if h.store.applied["z"] != 0 {
		t.Error("untracked teammate must not get a rank update")
	}
	if _, ok := h.store.lastSeen["z"]; ok {
		t.Error("untracked teammate must not get a last-seen update")
	}
}

func TestOtherModeMinimalNotification(t *testing.T) {
	h := newHarness(player("a", "Alice"))
	h.riot.matches["EUW1_5"] = &domain.MatchRecord{
		MatchID: "EUW1_5",
		QueueID: 1130,
		Participants: []domain.Participant{
			{Puuid: "a", Placement: 4},
		},
	}
	h.riot.lastMatch["a"] = "EUW1_5"

	h.tracker.runTick(context.Background())

	if len(h.notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notifier.sent))
	}
	if h.store.applied["a"] != 0 {
		t.Error("non-ranked modes must not trigger a rank update")
	}
	if !strings.Contains(h.notifier.sent[0].Text, "4th") {
		t.Errorf("notification %q should carry the placement", h.notifier.sent[0].Text)
	}
}

func TestSoloDeltaInNotification(t *testing.T) {
	p := player("a", "Alice")
	p.Solo = domain.RankSnapshot{Tier: "DIAMOND", Division: "II", LP: 75}
	h := newHarness(p)
	h.riot.matches["EUW1_6"] = soloMatch("EUW1_6", "a")
	h.riot.lastMatch["a"] = "EUW1_6"
	h.riot.ranks["a"] = domain.RankSnapshots{Solo: domain.RankSnapshot{Tier: "DIAMOND", Division: "I", LP: 25}}

	h.tracker.runTick(context.Background())

	if len(h.notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notifier.sent))
	}
	if !strings.Contains(h.notifier.sent[0].Text, "+50 LP") {
		t.Errorf("notification %q should report a +50 LP delta", h.notifier.sent[0].Text)
	}
	if len(h.history.entries) != 1 {
		t.Errorf("history entries = %d, want 1", len(h.history.entries))
	}
}

func TestUnauthorizedHaltsScheduler(t *testing.T) {
	h := newHarness(player("a", "Alice"), player("b", "Bob"))
	h.riot.lastMatchErr["a"] = &riot.APIError{Kind: riot.KindUnauthorized, Status: 401, URL: "https://example.test"}
	h.riot.lastMatch["b"] = "EUW1_2"
	h.riot.matches["EUW1_2"] = soloMatch("EUW1_2", "b")

	halted := h.tracker.runTick(context.Background())

	if !halted {
		t.Fatal("runTick should report a halt on unauthorized")
	}
	if got := h.tracker.State(); got != StateHalted {
		t.Errorf("state = %v, want halted", got)
	}
	if h.notifier.alerts() != 1 {
		t.Errorf("alerts = %d, want exactly 1", h.notifier.alerts())
	}
	// the credential is global: the roster loop must not continue
	if h.riot.lastIDCalls != 1 {
		t.Errorf("last-id calls = %d, want 1: no players processed after the halt", h.riot.lastIDCalls)
	}
}

func TestPerPlayerIsolation(t *testing.T) {
	h := newHarness(player("a", "Alice"), player("b", "Bob"))
	h.riot.lastMatchErr["a"] = &riot.APIError{Kind: riot.KindServerError, Status: 502, URL: "https://example.test"}
	h.riot.lastMatch["b"] = "EUW1_3"
	h.riot.matches["EUW1_3"] = soloMatch("EUW1_3", "b")

	h.tracker.runTick(context.Background())

	if len(h.notifier.sent) != 1 {
		t.Errorf("notifications = %d, want 1: one player's failure must not stop the batch", len(h.notifier.sent))
	}
	if h.tracker.Status().BackoffFailures != 0 {
		t.Errorf("backoff failures = %d, want 0: partial failure does not increment", h.tracker.Status().BackoffFailures)
	}
}

func TestBackoffCounterRules(t *testing.T) {
	h := newHarness(player("a", "Alice"), player("b", "Bob"))
	serverErr := &riot.APIError{Kind: riot.KindServerError, Status: 500, URL: "https://example.test"}
	h.riot.lastMatchErr["a"] = serverErr
	h.riot.lastMatchErr["b"] = serverErr

	h.tracker.runTick(context.Background())
	h.tracker.runTick(context.Background())

	if got := h.tracker.Status().BackoffFailures; got != 2 {
		t.Fatalf("backoff failures = %d, want 2 after two all-failed ticks", got)
	}
	if got := h.tracker.nextDelay(); got != 4*time.Second {
		t.Errorf("next delay = %v, want base*2^2 = 4s", got)
	}

	// one success resets the counter to zero
	delete(h.riot.lastMatchErr, "a")
	h.riot.lastMatch["a"] = ""
	h.tracker.runTick(context.Background())

	if got := h.tracker.Status().BackoffFailures; got != 0 {
		t.Errorf("backoff failures = %d, want 0 after a tick with a success", got)
	}
	if got := h.tracker.nextDelay(); got != time.Second {
		t.Errorf("next delay = %v, want the base interval", got)
	}
}

func TestBackoffDelayIsCapped(t *testing.T) {
	h := newHarness(player("a", "Alice"))
	h.riot.lastMatchErr["a"] = &riot.APIError{Kind: riot.KindServerError, Status: 500, URL: "https://example.test"}

	for i := 0; i < 30; i++ {
		h.tracker.runTick(context.Background())
	}

	if got := h.tracker.nextDelay(); got != constants.MaxBackoffCap {
		t.Errorf("next delay = %v, want the cap %v", got, constants.MaxBackoffCap)
	}
}

func TestUnhealthyAlertFiresOnce(t *testing.T) {
	h := newHarness(player("a", "Alice"))
	h.riot.lastMatchErr["a"] = &riot.APIError{Kind: riot.KindServerError, Status: 500, URL: "https://example.test"}

	for i := 0; i < constants.UnhealthyThreshold+3; i++ {
		h.tracker.runTick(context.Background())
	}

	if h.notifier.alerts() != 1 {
		t.Errorf("alerts = %d, want exactly one unhealthy alert", h.notifier.alerts())
	}

	// recovery re-arms the alert
	delete(h.riot.lastMatchErr, "a")
	h.riot.lastMatch["a"] = ""
	h.tracker.runTick(context.Background())
	if got := h.tracker.Status().ConsecutiveFailures; got != 0 {
		t.Errorf("consecutive failures = %d, want 0 after a successful tick", got)
	}
}

func TestSingleFlight(t *testing.T) {
	h := newHarness()
	if !h.tracker.beginTick() {
		t.Fatal("first tick should acquire the in-progress flag")
	}
	if h.tracker.beginTick() {
		t.Error("a tick firing while one is in flight must be dropped")
	}
	h.tracker.endTick()
	if !h.tracker.beginTick() {
		t.Error("the flag should be free again after the tick ended")
	}
	h.tracker.endTick()
}

func TestCancellationBetweenPlayers(t *testing.T) {
	h := newHarness(player("a", "Alice"), player("b", "Bob"))
	h.riot.lastMatch["a"] = ""
	h.riot.lastMatch["b"] = ""

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.tracker.runTick(ctx)

	if h.riot.lastIDCalls != 0 {
		t.Errorf("last-id calls = %d, want 0 when cancellation precedes the roster loop", h.riot.lastIDCalls)
	}
}
