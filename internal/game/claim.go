package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"packrat/internal/catalog"
	"packrat/internal/store"
)

// maxGuessAttempts is the per-user wrong-guess budget on one claim.
const maxGuessAttempts = 3

// GuessResult classifies one guess submission.
type GuessResult int

const (
	GuessWrong GuessResult = iota
	GuessCorrect
	GuessLockedOut
	GuessAlreadyClaimed
)

func (r GuessResult) String() string {
	switch r {
	case GuessWrong:
		return "wrong"
	case GuessCorrect:
		return "correct"
	case GuessLockedOut:
		return "locked_out"
	case GuessAlreadyClaimed:
		return "already_claimed"
	}
	return fmt.Sprintf("guess_result(%d)", int(r))
}

// ActiveClaim is the transient state machine for one spawned instance.
// OPEN transitions to CLAIMED or EXPIRED, both terminal. Never persisted.
type ActiveClaim struct {
	ID        string
	GuildID   string
	ChannelID string
	Card      catalog.Card
	OpenedAt  time.Time
	ExpiresAt time.Time

	mu       sync.Mutex
	resolved bool
	expired  bool
	winnerID string
	attempts map[string]int
}

// submit applies one guess. The resolved check-and-set happens under the
// claim's lock, so exactly one caller ever sees GuessCorrect.
func (c *ActiveClaim) submit(userID, text string, now time.Time) (GuessResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved {
		return GuessAlreadyClaimed, false
	}
	if c.expired || now.After(c.ExpiresAt) {
		c.expired = true
		return 0, true
	}
	if c.attempts[userID] >= maxGuessAttempts {
		return GuessLockedOut, false
	}
	if c.Card.Matches(text) {
		c.resolved = true
		c.winnerID = userID
		return GuessCorrect, false
	}
	c.attempts[userID]++
	return GuessWrong, false
}

func (c *ActiveClaim) forceExpire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolved {
		c.expired = true
	}
}

func (c *ActiveClaim) done(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved || c.expired || now.After(c.ExpiresAt)
}

// claimArbiter owns every open claim, keyed by claim id with a per-guild
// index so at most one claim is open per guild.
type claimArbiter struct {
	mu      sync.Mutex
	claims  map[string]*ActiveClaim
	byGuild map[string]string
}

func newClaimArbiter() *claimArbiter {
	return &claimArbiter{
		claims:  make(map[string]*ActiveClaim),
		byGuild: make(map[string]string),
	}
}

func (a *claimArbiter) open(id, guildID, channelID string, card catalog.Card, now time.Time, ttl time.Duration) *ActiveClaim {
	a.mu.Lock()
	defer a.mu.Unlock()
	if prevID, ok := a.byGuild[guildID]; ok {
		if prev, ok := a.claims[prevID]; ok {
			prev.forceExpire()
		}
	}
	claim := &ActiveClaim{
		ID:        id,
		GuildID:   guildID,
		ChannelID: channelID,
		Card:      card,
		OpenedAt:  now,
		ExpiresAt: now.Add(ttl),
		attempts:  make(map[string]int),
	}
	a.claims[id] = claim
	a.byGuild[guildID] = id
	return claim
}

func (a *claimArbiter) get(id string) *ActiveClaim {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.claims[id]
}

func (a *claimArbiter) activeForGuild(guildID string) *ActiveClaim {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byGuild[guildID]
	if !ok {
		return nil
	}
	return a.claims[id]
}

// sweep drops terminal claims. Claims linger until the next sweep so a late
// guess still reads as already-claimed rather than unknown.
func (a *claimArbiter) sweep(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, c := range a.claims {
		if c.done(now) {
			delete(a.claims, id)
			if a.byGuild[c.GuildID] == id {
				delete(a.byGuild, c.GuildID)
			}
		}
	}
}

// ClaimSuccess reports a resolved claim back to the transport layer.
type ClaimSuccess struct {
	ClaimID    string
	GuildID    string
	UserID     string
	CardName   string
	Tier       catalog.Tier
	InstanceID string
}

// SubmitGuess routes a guess to the identified claim. On the winning guess
// it writes the inventory record, the provenance entry and the claim log;
// all later guesses observe the already-resolved state. ErrCardGone covers
// unknown and expired claims.
func (s *Service) SubmitGuess(ctx context.Context, claimID, userID, text string) (GuessResult, *ClaimSuccess, error) {
	claim := s.claims.get(claimID)
	if claim == nil {
		return 0, nil, ErrCardGone
	}
	return s.submitToClaim(ctx, claim, userID, text)
}

// SubmitGuessInGuild routes a guess to the guild's open claim, for
// transports that deliver bare channel messages rather than claim ids.
func (s *Service) SubmitGuessInGuild(ctx context.Context, guildID, userID, text string) (GuessResult, *ClaimSuccess, error) {
	claim := s.claims.activeForGuild(guildID)
	if claim == nil {
		return 0, nil, ErrCardGone
	}
	return s.submitToClaim(ctx, claim, userID, text)
}

func (s *Service) submitToClaim(ctx context.Context, claim *ActiveClaim, userID, text string) (GuessResult, *ClaimSuccess, error) {
	res, expired := claim.submit(userID, text, s.now())
	if expired {
		return 0, nil, ErrCardGone
	}
	if res != GuessCorrect {
		return res, nil, nil
	}

	now := s.now()
	instanceID := newInstanceID()
	rec := store.InventoryRecord{
		InstanceID: instanceID,
		OwnerID:    userID,
		CardName:   claim.Card.Name,
		AcquiredAt: now,
	}
	if err := s.store.AddCard(ctx, rec); err != nil {
		return GuessCorrect, nil, fmt.Errorf("write claim: %w", err)
	}
	if err := s.store.RecordOriginal(ctx, instanceID, userID, now); err != nil {
		return GuessCorrect, nil, fmt.Errorf("write provenance: %w", err)
	}
	if err := s.store.AppendClaim(ctx, store.ClaimLogEntry{
		At:         now,
		GuildID:    claim.GuildID,
		UserID:     userID,
		CardName:   claim.Card.Name,
		InstanceID: instanceID,
	}); err != nil {
		s.log.Error("claim log append failed", "claim", claim.ID, "err", err)
	}

	s.log.Info("card claimed",
		"guild", claim.GuildID, "user", userID,
		"card", claim.Card.Name, "instance", instanceID)
	return GuessCorrect, &ClaimSuccess{
		ClaimID:    claim.ID,
		GuildID:    claim.GuildID,
		UserID:     userID,
		CardName:   claim.Card.Name,
		Tier:       claim.Card.Tier,
		InstanceID: instanceID,
	}, nil
}
