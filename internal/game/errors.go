package game

import "errors"

var (
	ErrNoCards        = errors.New("no cards available")
	ErrUnknownCard    = errors.New("unknown card")
	ErrNoSpawnChannel = errors.New("guild has no spawn channel")

	// ErrCardGone covers every lost race: the claim already resolved or
	// expired, or the card was transferred away before the operation
	// committed. Surfaced to users as "no longer available".
	ErrCardGone = errors.New("card is no longer available")

	ErrNotStealable    = errors.New("card tier is below the stealable floor")
	ErrNoLeverage      = errors.New("no stealable card to offer as leverage")
	ErrVictimImmune    = errors.New("target user is protected from steals")
	ErrSelfSteal       = errors.New("cannot steal from yourself")
	ErrStealRateLimit  = errors.New("guild steal attempt limit reached")
	ErrSessionOpen     = errors.New("a steal attempt is already open")
	ErrSessionNotFound = errors.New("steal session not found")
	ErrSessionExpired  = errors.New("steal session expired")
	ErrSelfGive        = errors.New("cannot give a card to yourself")
)
