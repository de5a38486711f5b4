package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"packrat/internal/catalog"
	"packrat/internal/store"
)

const (
	stealBase            = 40.0
	stealFloor           = 5.0
	stealNormalCeiling   = 75.0
	stealAbsoluteCeiling = 90.0
	stealReclaimBonus    = 20.0
	// maxTierDifference spans the full steal-value range: the lowest
	// stealable tier against the highest lands exactly on the floor.
	maxTierDifference = 70.0

	// highValueThreshold switches cheap leverage to fixed odds.
	highValueThreshold = 80

	maxStealAttempts = 2
	stealWindow      = time.Hour
)

// cheapLeverageOdds pins the chance when low or mid leverage is risked
// against a top-value target, replacing the general formula. A deliberate
// long-shot gamble stays possible but never becomes cheap.
var cheapLeverageOdds = map[catalog.Tier]float64{
	catalog.TierUncommon: 5,
	catalog.TierRare:     8,
	catalog.TierEpic:     12,
}

// stealChance computes the success percentage for one attempt.
func stealChance(leverageValue, targetValue int, leverageTier catalog.Tier, reclaim bool) float64 {
	chance, pinned := cheapLeverageOdds[leverageTier]
	if !pinned || targetValue < highValueThreshold {
		diff := float64(leverageValue - targetValue)
		chance = stealBase
		switch {
		case diff > 0:
			chance += diff / maxTierDifference * (stealNormalCeiling - stealBase)
			if chance > stealNormalCeiling {
				chance = stealNormalCeiling
			}
		case diff < 0:
			chance -= -diff / maxTierDifference * (stealBase - stealFloor)
			if chance < stealFloor {
				chance = stealFloor
			}
		}
	}
	if reclaim {
		chance += stealReclaimBonus
		if chance > stealAbsoluteCeiling {
			chance = stealAbsoluteCeiling
		}
	}
	return chance
}

// EstimateChance returns the steal success percentage for a leverage/target
// pairing, before any dice are rolled.
func EstimateChance(leverage, target catalog.Card, reclaim bool) (float64, error) {
	lv, ok := leverage.Tier.StealValue()
	if !ok {
		return 0, ErrNotStealable
	}
	tv, ok := target.Tier.StealValue()
	if !ok {
		return 0, ErrNotStealable
	}
	return stealChance(lv, tv, leverage.Tier, reclaim), nil
}

// StealRequest carries everything needed to open a steal attempt. Role ids
// come from the transport layer so role-based immunity can be honored.
type StealRequest struct {
	GuildID       string
	ThiefID       string
	ThiefRoleIDs  []string
	VictimID      string
	VictimRoleIDs []string
	TargetCard    string
}

// StealSession is the pending attempt between stealRequested and
// leverageChosen. Expires with no mutation if the thief never commits.
type StealSession struct {
	ID         string
	GuildID    string
	ThiefID    string
	VictimID   string
	Target     store.InventoryRecord
	TargetCard catalog.Card
	Reclaim    bool
	OpenedAt   time.Time
	ExpiresAt  time.Time

	mu       sync.Mutex
	resolved bool
}

func (ss *StealSession) claim() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.resolved {
		return false
	}
	ss.resolved = true
	return true
}

// StealOutcome is the terminal result of a resolved attempt.
type StealOutcome struct {
	Success     bool
	Reclaimed   bool
	Chance      float64
	Roll        float64
	Leverage    catalog.Card
	Target      catalog.Card
	Transferred *store.InventoryRecord
	Forfeited   *store.InventoryRecord
}

// BeginSteal validates an attempt and opens a session awaiting the thief's
// leverage choice. Eligibility runs before the rate limit so malformed
// requests never consume an attempt; immune thieves bypass the limit
// entirely.
func (s *Service) BeginSteal(ctx context.Context, req StealRequest) (*StealSession, error) {
	if req.ThiefID == req.VictimID {
		return nil, ErrSelfSteal
	}
	if s.catalog == nil {
		return nil, ErrNoCards
	}
	if existing := s.SessionFor(req.GuildID, req.ThiefID); existing != nil {
		if s.now().After(existing.ExpiresAt) {
			s.dropSession(existing.ID)
		} else {
			return nil, ErrSessionOpen
		}
	}
	card, ok := s.catalog.Find(req.TargetCard)
	if !ok {
		return nil, ErrUnknownCard
	}
	if !card.Tier.Stealable() {
		return nil, ErrNotStealable
	}

	guild, err := s.store.Guild(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}
	if guild.StealImmune(req.VictimID, req.VictimRoleIDs) {
		return nil, ErrVictimImmune
	}

	if err := s.requireLeverage(ctx, req.ThiefID); err != nil {
		return nil, err
	}

	target, err := s.store.FindOwned(ctx, req.VictimID, card.Name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCardGone
		}
		return nil, fmt.Errorf("find target: %w", err)
	}

	now := s.now()
	if !guild.StealImmune(req.ThiefID, req.ThiefRoleIDs) {
		if err := s.consumeStealAttempt(ctx, req.GuildID, now); err != nil {
			return nil, err
		}
	}

	orig, found, err := s.store.LookupOriginal(ctx, target.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("lookup provenance: %w", err)
	}

	session := &StealSession{
		ID:         uuid.NewString(),
		GuildID:    req.GuildID,
		ThiefID:    req.ThiefID,
		VictimID:   req.VictimID,
		Target:     target,
		TargetCard: card,
		Reclaim:    found && orig == req.ThiefID,
		OpenedAt:   now,
		ExpiresAt:  now.Add(s.opts.StealSessionTTL),
	}
	s.stealMu.Lock()
	s.steals[session.ID] = session
	s.stealMu.Unlock()

	s.log.Info("steal attempt opened",
		"guild", req.GuildID, "thief", req.ThiefID, "victim", req.VictimID,
		"card", card.Name, "session", session.ID, "reclaim", session.Reclaim)
	return session, nil
}

// consumeStealAttempt prunes the guild's sliding attempt window and claims
// one slot. The whole read-modify-write runs under the guild lock: handlers
// run concurrently, and a blind save here would let every racer see the
// pre-attempt window and breach the cap.
func (s *Service) consumeStealAttempt(ctx context.Context, guildID string, now time.Time) error {
	defer s.lockGuild(guildID)()
	guild, err := s.store.Guild(ctx, guildID)
	if err != nil {
		return err
	}
	kept := guild.RecentStealTimes[:0]
	for _, t := range guild.RecentStealTimes {
		if now.Sub(t) < stealWindow {
			kept = append(kept, t)
		}
	}
	if len(kept) >= maxStealAttempts {
		guild.RecentStealTimes = kept
		if err := s.store.SaveGuild(ctx, guild); err != nil {
			return err
		}
		return ErrStealRateLimit
	}
	guild.RecentStealTimes = append(kept, now)
	return s.store.SaveGuild(ctx, guild)
}

// requireLeverage verifies the thief holds at least one card at or above
// the stealable floor.
func (s *Service) requireLeverage(ctx context.Context, thiefID string) error {
	recs, err := s.store.ListFor(ctx, thiefID)
	if err != nil {
		return fmt.Errorf("list thief inventory: %w", err)
	}
	for _, rec := range recs {
		if card, ok := s.catalog.ByName(rec.CardName); ok && card.Tier.Stealable() {
			return nil
		}
	}
	return ErrNoLeverage
}

// SessionFor returns the thief's open session in a guild, if any.
func (s *Service) SessionFor(guildID, thiefID string) *StealSession {
	s.stealMu.Lock()
	defer s.stealMu.Unlock()
	for _, ss := range s.steals {
		if ss.GuildID == guildID && ss.ThiefID == thiefID {
			return ss
		}
	}
	return nil
}

// ResolveSteal commits the attempt with the chosen leverage card. Success
// transfers the target instance to the thief with the stolen flag set;
// failure forfeits the leverage card permanently. The session is terminal
// either way.
func (s *Service) ResolveSteal(ctx context.Context, sessionID, leverageCardName string) (StealOutcome, error) {
	s.stealMu.Lock()
	session, ok := s.steals[sessionID]
	s.stealMu.Unlock()
	if !ok {
		return StealOutcome{}, ErrSessionNotFound
	}

	now := s.now()
	if now.After(session.ExpiresAt) {
		s.dropSession(sessionID)
		return StealOutcome{}, ErrSessionExpired
	}

	leverage, ok := s.catalog.Find(leverageCardName)
	if !ok {
		return StealOutcome{}, ErrUnknownCard
	}
	lv, ok := leverage.Tier.StealValue()
	if !ok {
		return StealOutcome{}, ErrNotStealable
	}
	if _, err := s.store.FindOwned(ctx, session.ThiefID, leverage.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return StealOutcome{}, ErrCardGone
		}
		return StealOutcome{}, fmt.Errorf("find leverage: %w", err)
	}

	if !session.claim() {
		return StealOutcome{}, ErrSessionNotFound
	}
	defer s.dropSession(sessionID)

	tv, _ := session.TargetCard.Tier.StealValue()
	chance := stealChance(lv, tv, leverage.Tier, session.Reclaim)
	roll := s.nextFloat() * 100
	out := StealOutcome{
		Reclaimed: session.Reclaim,
		Chance:    chance,
		Roll:      roll,
		Leverage:  leverage,
		Target:    session.TargetCard,
	}

	if roll <= chance {
		moved, err := s.store.TransferInstance(ctx, session.Target.InstanceID, session.VictimID, session.ThiefID, true)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return StealOutcome{}, ErrCardGone
			}
			return StealOutcome{}, fmt.Errorf("transfer target: %w", err)
		}
		out.Success = true
		out.Transferred = &moved
		s.log.Info("steal succeeded",
			"guild", session.GuildID, "thief", session.ThiefID, "victim", session.VictimID,
			"card", moved.CardName, "chance", chance, "roll", roll, "reclaim", session.Reclaim)
		return out, nil
	}

	lost, err := s.store.RemoveOne(ctx, session.ThiefID, leverage.Name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return StealOutcome{}, ErrCardGone
		}
		return StealOutcome{}, fmt.Errorf("forfeit leverage: %w", err)
	}
	out.Forfeited = &lost
	s.log.Info("steal failed",
		"guild", session.GuildID, "thief", session.ThiefID, "victim", session.VictimID,
		"forfeited", lost.CardName, "chance", chance, "roll", roll)
	return out, nil
}

func (s *Service) dropSession(id string) {
	s.stealMu.Lock()
	delete(s.steals, id)
	s.stealMu.Unlock()
}

// sweepSteals drops expired sessions; no mutation happens on expiry.
func (s *Service) sweepSteals(now time.Time) {
	s.stealMu.Lock()
	defer s.stealMu.Unlock()
	for id, ss := range s.steals {
		if now.After(ss.ExpiresAt) {
			delete(s.steals, id)
		}
	}
}
