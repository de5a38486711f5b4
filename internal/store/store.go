// Package store defines the durable state owned by the economy engine:
// the inventory ledger, the provenance index, per-guild configuration and
// the spawn/claim audit logs. Two backends implement Store: a flat-file
// backend (filestore) and a Postgres backend (pgstore).
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist. Callers that
	// lost a race (card already transferred or removed) see this too.
	ErrNotFound = errors.New("record not found")
)

// InventoryRecord is one physical copy of a card. Two records with the same
// CardName are interchangeable for "does the user own X" queries but remain
// distinct instances for provenance and steal resolution.
type InventoryRecord struct {
	InstanceID string    `json:"instance_id"`
	OwnerID    string    `json:"owner_id"`
	CardName   string    `json:"card_name"`
	Stolen     bool      `json:"stolen"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ProvenanceEntry binds an instance to the user who first claimed it.
// Written once at claim time and never updated by transfers.
type ProvenanceEntry struct {
	InstanceID      string    `json:"instance_id"`
	OriginalOwnerID string    `json:"original_owner_id"`
	ClaimedAt       time.Time `json:"claimed_at"`
}

// GuildConfig carries the per-guild settings read by the spawn scheduler
// and the steal engine. Administrative commands mutate it; the scheduler
// owns advancing NextSpawnAt and the steal engine appends RecentStealTimes.
type GuildConfig struct {
	GuildID          string      `json:"guild_id"`
	SpawnChannelID   string      `json:"spawn_channel_id"`
	NextSpawnAt      time.Time   `json:"next_spawn_at"`
	Approved         bool        `json:"approved"`
	SpawnAllowList   []string    `json:"spawn_allow_list,omitempty"`
	StealImmuneList  []string    `json:"steal_immune_list,omitempty"`
	BannedAdminList  []string    `json:"banned_admin_list,omitempty"`
	RecentStealTimes []time.Time `json:"recent_steal_times,omitempty"`
}

// StealImmune reports whether the user, or any of the given role ids, is on
// the guild's immunity list.
func (g GuildConfig) StealImmune(userID string, roleIDs []string) bool {
	for _, id := range g.StealImmuneList {
		if id == userID {
			return true
		}
		for _, role := range roleIDs {
			if id == role {
				return true
			}
		}
	}
	return false
}

// SpawnHistoryEntry is one line of the append-only spawn audit log. It is
// also the source of truth for the recent-spawn window and the per-day
// spawn counts.
type SpawnHistoryEntry struct {
	At       time.Time `json:"at"`
	GuildID  string    `json:"guild_id"`
	CardName string    `json:"card_name"`
}

// ClaimLogEntry records a successful claim.
type ClaimLogEntry struct {
	At         time.Time `json:"at"`
	GuildID    string    `json:"guild_id"`
	UserID     string    `json:"user_id"`
	CardName   string    `json:"card_name"`
	InstanceID string    `json:"instance_id"`
}

// Store is the persistence contract. Every mutation must leave the backing
// storage readable even if the process dies right after the call returns,
// and read-modify-write sequences (transfer, removeOne) are serialized by
// the implementation so concurrent callers cannot lose updates.
type Store interface {
	// AddCard appends an inventory record.
	AddCard(ctx context.Context, rec InventoryRecord) error
	// RemoveOne removes exactly one record matching owner and card name,
	// in storage order, and returns it. ErrNotFound when none match.
	RemoveOne(ctx context.Context, ownerID, cardName string) (InventoryRecord, error)
	// FindOwned returns the first record matching owner and card name
	// without removing it.
	FindOwned(ctx context.Context, ownerID, cardName string) (InventoryRecord, error)
	// ListFor returns all records held by the owner, in storage order.
	ListFor(ctx context.Context, ownerID string) ([]InventoryRecord, error)
	// TransferInstance moves one instance to a new owner, preserving its
	// InstanceID and setting the stolen flag. The fromOwner check makes the
	// transfer a compare-and-swap: ErrNotFound when the instance is gone or
	// no longer held by fromOwner.
	TransferInstance(ctx context.Context, instanceID, fromOwnerID, toOwnerID string, stolen bool) (InventoryRecord, error)

	// RecordOriginal writes the provenance entry for an instance. A second
	// call for the same instance is a no-op: provenance is never overwritten.
	RecordOriginal(ctx context.Context, instanceID, claimerID string, at time.Time) error
	// LookupOriginal returns the original claimer of an instance, with
	// ok=false when no entry exists.
	LookupOriginal(ctx context.Context, instanceID string) (userID string, ok bool, err error)

	// Guild returns the guild's config, or a zero config carrying the id
	// when the guild has never been configured.
	Guild(ctx context.Context, guildID string) (GuildConfig, error)
	SaveGuild(ctx context.Context, cfg GuildConfig) error
	ListGuilds(ctx context.Context) ([]GuildConfig, error)

	AppendSpawn(ctx context.Context, e SpawnHistoryEntry) error
	// RecentSpawnNames returns up to n card names spawned in the guild,
	// most recent first.
	RecentSpawnNames(ctx context.Context, guildID string, n int) ([]string, error)
	// SpawnCountsOn returns per-card spawn counts for the guild on the UTC
	// calendar day containing the given time.
	SpawnCountsOn(ctx context.Context, guildID string, day time.Time) (map[string]int, error)

	AppendClaim(ctx context.Context, e ClaimLogEntry) error

	Close() error
}
