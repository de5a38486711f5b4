package game

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"packrat/internal/catalog"
	"packrat/internal/store"
)

const (
	// recentSpawnWindow is the per-guild no-repeat window: a card stays
	// excluded until 10 newer spawns push it out.
	recentSpawnWindow = 10
	// dailySpawnCap is the per-card, per-guild spawn ceiling for one UTC day.
	dailySpawnCap = 3
)

// SpawnEvent is handed to the transport layer to announce a spawn.
type SpawnEvent struct {
	GuildID   string
	ChannelID string
	ClaimID   string
	Card      catalog.Card
	ExpiresAt time.Time
}

// SelectCard picks the next card to spawn in a guild and records the draw.
// The eligible pool excludes cards in the guild's recent-spawn window and
// cards already at the daily cap; if that empties the pool the daily cap is
// relaxed, and as a last resort the full catalog is used even though that
// can repeat a recent card.
func (s *Service) SelectCard(ctx context.Context, guildID string) (catalog.Card, error) {
	if s.catalog == nil || s.catalog.Len() == 0 {
		return catalog.Card{}, ErrNoCards
	}

	recent, err := s.store.RecentSpawnNames(ctx, guildID, recentSpawnWindow)
	if err != nil {
		return catalog.Card{}, fmt.Errorf("recent spawns: %w", err)
	}
	recentSet := make(map[string]struct{}, len(recent))
	for _, name := range recent {
		recentSet[name] = struct{}{}
	}

	now := s.now()
	counts, err := s.store.SpawnCountsOn(ctx, guildID, now)
	if err != nil {
		return catalog.Card{}, fmt.Errorf("daily counts: %w", err)
	}

	guild, err := s.store.Guild(ctx, guildID)
	if err != nil {
		return catalog.Card{}, err
	}
	allowed := allowSet(guild.SpawnAllowList)

	all := make([]catalog.Card, 0, s.catalog.Len())
	for _, c := range s.catalog.Cards() {
		if allowed != nil {
			if _, ok := allowed[c.Name]; !ok {
				continue
			}
		}
		all = append(all, c)
	}
	if len(all) == 0 {
		return catalog.Card{}, ErrNoCards
	}

	card := s.weightedPick(buildSpawnPool(all, recentSet, counts))
	if err := s.store.AppendSpawn(ctx, store.SpawnHistoryEntry{
		At:       now,
		GuildID:  guildID,
		CardName: card.Name,
	}); err != nil {
		return catalog.Card{}, fmt.Errorf("record spawn: %w", err)
	}
	return card, nil
}

// buildSpawnPool applies the eligibility ladder: exclude recently spawned
// and daily-capped cards; relax the cap when that empties the pool; fall
// back to the full catalog as a last resort even though that can repeat a
// recent card.
func buildSpawnPool(all []catalog.Card, recent map[string]struct{}, counts map[string]int) []catalog.Card {
	pool := make([]catalog.Card, 0, len(all))
	for _, c := range all {
		if _, seen := recent[c.Name]; seen {
			continue
		}
		if counts[c.Name] >= dailySpawnCap {
			continue
		}
		pool = append(pool, c)
	}
	if len(pool) == 0 {
		for _, c := range all {
			if _, seen := recent[c.Name]; !seen {
				pool = append(pool, c)
			}
		}
	}
	if len(pool) == 0 {
		pool = all
	}
	return pool
}

func allowSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// weightedPick draws one card with probability proportional to its weight.
func (s *Service) weightedPick(pool []catalog.Card) catalog.Card {
	total := 0
	for _, c := range pool {
		total += c.Weight
	}
	r := s.randIntn(total)
	for _, c := range pool {
		r -= c.Weight
		if r < 0 {
			return c
		}
	}
	return pool[len(pool)-1]
}

// RunSpawnCheck is the periodic tick: it scans every approved guild, spawns
// where due, opens a claim window, and reschedules the guild. One guild's
// failure is logged and never aborts the rest of the pass. Expired claims
// and steal sessions are swept on the same tick.
func (s *Service) RunSpawnCheck(ctx context.Context) []SpawnEvent {
	now := s.now()
	s.claims.sweep(now)
	s.sweepSteals(now)

	guilds, err := s.store.ListGuilds(ctx)
	if err != nil {
		s.log.Error("spawn check: list guilds", "err", err)
		return nil
	}

	var events []SpawnEvent
	for _, g := range guilds {
		if !g.Approved || now.Before(g.NextSpawnAt) {
			continue
		}
		ev, err := s.spawnForGuild(ctx, g.GuildID, now)
		if err != nil {
			s.log.Error("spawn check: guild failed", "guild", g.GuildID, "err", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

func (s *Service) spawnForGuild(ctx context.Context, guildID string, now time.Time) (SpawnEvent, error) {
	// Reschedule first so a failing guild does not retry every tick. The
	// re-read under the guild lock keeps this save from clobbering a
	// concurrent admin change.
	unlock := s.lockGuild(guildID)
	g, err := s.store.Guild(ctx, guildID)
	if err != nil {
		unlock()
		return SpawnEvent{}, err
	}
	g.NextSpawnAt = now.Add(s.nextSpawnDelay())
	err = s.store.SaveGuild(ctx, g)
	unlock()
	if err != nil {
		return SpawnEvent{}, fmt.Errorf("reschedule: %w", err)
	}
	if g.SpawnChannelID == "" {
		return SpawnEvent{}, ErrNoSpawnChannel
	}

	card, err := s.SelectCard(ctx, g.GuildID)
	if err != nil {
		return SpawnEvent{}, err
	}

	claim := s.claims.open(uuid.NewString(), g.GuildID, g.SpawnChannelID, card, now, s.opts.ClaimWindow)
	s.log.Info("card spawned",
		"guild", g.GuildID, "channel", g.SpawnChannelID,
		"card", card.Name, "tier", card.Tier.String(), "claim", claim.ID)
	return SpawnEvent{
		GuildID:   g.GuildID,
		ChannelID: g.SpawnChannelID,
		ClaimID:   claim.ID,
		Card:      card,
		ExpiresAt: claim.ExpiresAt,
	}, nil
}

func (s *Service) nextSpawnDelay() time.Duration {
	min, max := s.opts.SpawnMinInterval, s.opts.SpawnMaxInterval
	if max <= min {
		return min
	}
	return min + time.Duration(s.nextFloat()*float64(max-min))
}
