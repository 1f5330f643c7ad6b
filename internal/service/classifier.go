package service

import (
	"context"
	"errors"
	"fmt"

	"tft-tracker/internal/card"
	"tft-tracker/internal/constants"
	"tft-tracker/internal/domain"
	"tft-tracker/internal/repository"
	"tft-tracker/internal/riot"
)

// buildNotification routes a fetched match to solo/team/other handling and
// assembles the payload. For double-up matches it also resolves the partner:
// a tracked teammate gets their own rank update, joins the payload and is
// returned so the caller can mark them notified for the rest of the tick.
func (t *Tracker) buildNotification(
	ctx context.Context,
	player *domain.TrackedPlayer,
	record *domain.MatchRecord,
	entry *domain.Participant,
	mode domain.Mode,
	tick *tickState,
) (domain.Notification, *domain.TrackedPlayer, error) {
	switch mode {
	case domain.ModeSolo:
		return t.buildSoloNotification(ctx, player, record, entry)
	case domain.ModeDoubleUp:
		return t.buildDoubleUpNotification(ctx, player, record, entry, tick)
	default:
		// non-ranked or unrecognized queue: placement only, no rank delta
		text := fmt.Sprintf("**%s** finished %s in a non-ranked match.",
			player.RiotID(), ordinal(entry.Placement))
		return domain.Notification{Text: text}, nil, nil
	}
}

func (t *Tracker) buildSoloNotification(
	ctx context.Context,
	player *domain.TrackedPlayer,
	record *domain.MatchRecord,
	entry *domain.Participant,
) (domain.Notification, *domain.TrackedPlayer, error) {
	deltas, err := t.applyRank(ctx, player, record.MatchID)
	if err != nil {
		return domain.Notification{}, nil, err
	}
	res := deltas.Solo

	text := fmt.Sprintf("**%s** finished %s — %s %s",
		player.RiotID(), ordinal(entry.Placement),
		domain.FormatRank(res.New), domain.FormatDelta(res.Delta))

	notif := domain.Notification{Text: text, ImageName: record.MatchID + ".png"}
	notif.Image = t.renderCard(card.Card{
		Mode:      domain.ModeSolo,
		Placement: entry.Placement,
		Player: card.Player{
			Name:      player.RiotID(),
			Rank:      res.New,
			DeltaText: domain.FormatDelta(res.Delta),
			Units:     entry.Units,
		},
	})
	return notif, nil, nil
}

func (t *Tracker) buildDoubleUpNotification(
	ctx context.Context,
	player *domain.TrackedPlayer,
	record *domain.MatchRecord,
	entry *domain.Participant,
	tick *tickState,
) (domain.Notification, *domain.TrackedPlayer, error) {
	deltas, err := t.applyRank(ctx, player, record.MatchID)
	if err != nil {
		return domain.Notification{}, nil, err
	}
	res := deltas.DoubleUp

	placement := domain.TeamPlacement(entry.Placement)

	c := card.Card{
		Mode:      domain.ModeDoubleUp,
		Placement: placement,
		Player: card.Player{
			Name:      player.RiotID(),
			Rank:      res.New,
			DeltaText: domain.FormatDelta(res.Delta),
			Units:     entry.Units,
		},
	}

	text := fmt.Sprintf("**%s** finished %s (Double Up) — %s %s",
		player.RiotID(), ordinal(placement),
		domain.FormatRank(res.New), domain.FormatDelta(res.Delta))

	var pairedMate *domain.TrackedPlayer
	if mate := record.Teammate(entry); mate != nil {
		mateName := mate.Name + "#" + mate.Tag
		tracked, err := t.lookupTracked(ctx, mate.Puuid)
		if err != nil {
			return domain.Notification{}, nil, err
		}
		if tracked != nil && tick.notified[tracked.Puuid] {
			// already handled as a primary earlier this tick, so the stored
			// snapshot is current and no second rank update is due
			c.Teammate = &card.Player{
				Name:  tracked.RiotID(),
				Rank:  tracked.DoubleUp,
				Units: mate.Units,
			}
			text += fmt.Sprintf(" with **%s** — %s",
				tracked.RiotID(), domain.FormatRank(tracked.DoubleUp))
		} else if tracked != nil {
			mateDeltas, err := t.applyRank(ctx, tracked, record.MatchID)
			if err != nil {
				return domain.Notification{}, nil, err
			}
			mateRes := mateDeltas.DoubleUp
			c.Teammate = &card.Player{
				Name:      tracked.RiotID(),
				Rank:      mateRes.New,
				DeltaText: domain.FormatDelta(mateRes.Delta),
				Units:     mate.Units,
			}
			text += fmt.Sprintf(" with **%s** — %s %s",
				tracked.RiotID(), domain.FormatRank(mateRes.New), domain.FormatDelta(mateRes.Delta))
			pairedMate = tracked
		} else {
			// untracked teammate: identity surfaced, placeholder rank, no delta
			c.Teammate = &card.Player{
				Name:  mateName,
				Rank:  domain.RankSnapshot{},
				Units: mate.Units,
			}
			text += fmt.Sprintf(" with **%s**", mateName)
		}
	}

	notif := domain.Notification{Text: text, ImageName: record.MatchID + ".png"}
	notif.Image = t.renderCard(c)
	return notif, pairedMate, nil
}

// applyRank fetches fresh rank snapshots and applies them transactionally,
// recording the movement per queue. A NotFound rank lookup is treated as
// fully unranked rather than an error.
func (t *Tracker) applyRank(ctx context.Context, player *domain.TrackedPlayer, matchID string) (domain.DeltaResults, error) {
	apiCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	snaps, err := t.riot.GetRankSnapshots(apiCtx, player.Platform, player.Puuid)
	cancel()
	if err != nil {
		if !riot.IsNotFound(err) {
			return domain.DeltaResults{}, err
		}
		snaps = domain.RankSnapshots{}
	}

	dbCtx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	deltas, err := t.store.ApplyRankUpdate(dbCtx, player.Puuid, snaps)
	if err != nil {
		return domain.DeltaResults{}, fmt.Errorf("rank update for %s: %w", player.Puuid, err)
	}

	var entries []domain.RankHistoryEntry
	if deltas.Solo.New.IsRanked() {
		entries = append(entries, domain.RankHistoryEntry{
			Puuid:    player.Puuid,
			MatchID:  matchID,
			Queue:    domain.ModeSolo.String(),
			Snapshot: deltas.Solo.New,
			Delta:    deltas.Solo.Delta,
		})
	}
	if deltas.DoubleUp.New.IsRanked() {
		entries = append(entries, domain.RankHistoryEntry{
			Puuid:    player.Puuid,
			MatchID:  matchID,
			Queue:    domain.ModeDoubleUp.String(),
			Snapshot: deltas.DoubleUp.New,
			Delta:    deltas.DoubleUp.Delta,
		})
	}
	if err := t.history.Append(dbCtx, entries); err != nil {
		t.logger.Warn().Err(err).Str("puuid", player.Puuid).Msg("failed to append rank history")
	}

	return deltas, nil
}

func (t *Tracker) lookupTracked(ctx context.Context, puuid string) (*domain.TrackedPlayer, error) {
	dbCtx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	tracked, err := t.store.GetTrackedPlayer(dbCtx, puuid)
	if errors.Is(err, repository.ErrPlayerNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("teammate lookup for %s: %w", puuid, err)
	}
	return tracked, nil
}

// renderCard is best effort: a render failure degrades the notification to
// text only.
func (t *Tracker) renderCard(c card.Card) []byte {
	img, err := t.renderer.Render(c)
	if err != nil {
		t.logger.Warn().Err(err).Msg("card render failed, sending text only")
		return nil
	}
	return img
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	default:
		return fmt.Sprintf("%dth", n)
	}
}
