// Package pgstore is the Postgres Store backend. Transactions with row
// locks serialize the read-modify-write paths; durability comes from the
// database rather than file renames.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"packrat/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

// Open ensures the schema exists and returns the store.
func Open(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS packrat`,
		`CREATE TABLE IF NOT EXISTS packrat.inventory (
			instance_id TEXT PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			card_name   TEXT NOT NULL,
			stolen      BOOLEAN NOT NULL DEFAULT FALSE,
			acquired_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS inventory_owner_idx ON packrat.inventory (owner_id, card_name)`,
		`CREATE TABLE IF NOT EXISTS packrat.provenance (
			instance_id       TEXT PRIMARY KEY,
			original_owner_id TEXT NOT NULL,
			claimed_at        TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS packrat.guilds (
			guild_id           TEXT PRIMARY KEY,
			spawn_channel_id   TEXT NOT NULL DEFAULT '',
			next_spawn_at      TIMESTAMPTZ,
			approved           BOOLEAN NOT NULL DEFAULT FALSE,
			spawn_allow_list   TEXT[] NOT NULL DEFAULT '{}',
			steal_immune_list  TEXT[] NOT NULL DEFAULT '{}',
			banned_admin_list  TEXT[] NOT NULL DEFAULT '{}',
			recent_steal_times TIMESTAMPTZ[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS packrat.spawn_log (
			id        BIGSERIAL PRIMARY KEY,
			at        TIMESTAMPTZ NOT NULL,
			guild_id  TEXT NOT NULL,
			card_name TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS spawn_log_guild_idx ON packrat.spawn_log (guild_id, at DESC)`,
		`CREATE TABLE IF NOT EXISTS packrat.claim_log (
			id          BIGSERIAL PRIMARY KEY,
			at          TIMESTAMPTZ NOT NULL,
			guild_id    TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			card_name   TEXT NOT NULL,
			instance_id TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AddCard(ctx context.Context, rec store.InventoryRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO packrat.inventory (instance_id, owner_id, card_name, stolen, acquired_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.InstanceID, rec.OwnerID, rec.CardName, rec.Stolen, rec.AcquiredAt)
	return err
}

func (s *Store) RemoveOne(ctx context.Context, ownerID, cardName string) (store.InventoryRecord, error) {
	var rec store.InventoryRecord
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return rec, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		SELECT instance_id, owner_id, card_name, stolen, acquired_at
		FROM packrat.inventory
		WHERE owner_id = $1 AND card_name = $2
		ORDER BY acquired_at, instance_id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, ownerID, cardName).Scan(&rec.InstanceID, &rec.OwnerID, &rec.CardName, &rec.Stolen, &rec.AcquiredAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return rec, store.ErrNotFound
		}
		return rec, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM packrat.inventory WHERE instance_id = $1`, rec.InstanceID); err != nil {
		return rec, err
	}
	return rec, tx.Commit(ctx)
}

func (s *Store) FindOwned(ctx context.Context, ownerID, cardName string) (store.InventoryRecord, error) {
	var rec store.InventoryRecord
	err := s.pool.QueryRow(ctx, `
		SELECT instance_id, owner_id, card_name, stolen, acquired_at
		FROM packrat.inventory
		WHERE owner_id = $1 AND card_name = $2
		ORDER BY acquired_at, instance_id
		LIMIT 1
	`, ownerID, cardName).Scan(&rec.InstanceID, &rec.OwnerID, &rec.CardName, &rec.Stolen, &rec.AcquiredAt)
	if err == pgx.ErrNoRows {
		return rec, store.ErrNotFound
	}
	return rec, err
}

func (s *Store) ListFor(ctx context.Context, ownerID string) ([]store.InventoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT instance_id, owner_id, card_name, stolen, acquired_at
		FROM packrat.inventory
		WHERE owner_id = $1
		ORDER BY acquired_at, instance_id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.InventoryRecord
	for rows.Next() {
		var rec store.InventoryRecord
		if err := rows.Scan(&rec.InstanceID, &rec.OwnerID, &rec.CardName, &rec.Stolen, &rec.AcquiredAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) TransferInstance(ctx context.Context, instanceID, fromOwnerID, toOwnerID string, stolen bool) (store.InventoryRecord, error) {
	var rec store.InventoryRecord
	err := s.pool.QueryRow(ctx, `
		UPDATE packrat.inventory
		SET owner_id = $1, stolen = $2, acquired_at = now()
		WHERE instance_id = $3 AND owner_id = $4
		RETURNING instance_id, owner_id, card_name, stolen, acquired_at
	`, toOwnerID, stolen, instanceID, fromOwnerID).Scan(&rec.InstanceID, &rec.OwnerID, &rec.CardName, &rec.Stolen, &rec.AcquiredAt)
	if err == pgx.ErrNoRows {
		return rec, store.ErrNotFound
	}
	return rec, err
}

func (s *Store) RecordOriginal(ctx context.Context, instanceID, claimerID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO packrat.provenance (instance_id, original_owner_id, claimed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (instance_id) DO NOTHING
	`, instanceID, claimerID, at)
	return err
}

func (s *Store) LookupOriginal(ctx context.Context, instanceID string) (string, bool, error) {
	var owner string
	err := s.pool.QueryRow(ctx, `
		SELECT original_owner_id FROM packrat.provenance WHERE instance_id = $1
	`, instanceID).Scan(&owner)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

func (s *Store) Guild(ctx context.Context, guildID string) (store.GuildConfig, error) {
	g := store.GuildConfig{GuildID: guildID}
	var nextSpawn *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT spawn_channel_id, next_spawn_at, approved,
		       spawn_allow_list, steal_immune_list, banned_admin_list, recent_steal_times
		FROM packrat.guilds
		WHERE guild_id = $1
	`, guildID).Scan(&g.SpawnChannelID, &nextSpawn, &g.Approved,
		&g.SpawnAllowList, &g.StealImmuneList, &g.BannedAdminList, &g.RecentStealTimes)
	if err == pgx.ErrNoRows {
		return store.GuildConfig{GuildID: guildID}, nil
	}
	if err != nil {
		return g, err
	}
	if nextSpawn != nil {
		g.NextSpawnAt = *nextSpawn
	}
	return g, nil
}

func (s *Store) SaveGuild(ctx context.Context, cfg store.GuildConfig) error {
	var nextSpawn *time.Time
	if !cfg.NextSpawnAt.IsZero() {
		nextSpawn = &cfg.NextSpawnAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO packrat.guilds
			(guild_id, spawn_channel_id, next_spawn_at, approved,
			 spawn_allow_list, steal_immune_list, banned_admin_list, recent_steal_times)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (guild_id) DO UPDATE SET
			spawn_channel_id   = EXCLUDED.spawn_channel_id,
			next_spawn_at      = EXCLUDED.next_spawn_at,
			approved           = EXCLUDED.approved,
			spawn_allow_list   = EXCLUDED.spawn_allow_list,
			steal_immune_list  = EXCLUDED.steal_immune_list,
			banned_admin_list  = EXCLUDED.banned_admin_list,
			recent_steal_times = EXCLUDED.recent_steal_times
	`, cfg.GuildID, cfg.SpawnChannelID, nextSpawn, cfg.Approved,
		textArray(cfg.SpawnAllowList), textArray(cfg.StealImmuneList),
		textArray(cfg.BannedAdminList), timeArray(cfg.RecentStealTimes))
	return err
}

func textArray(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func timeArray(v []time.Time) []time.Time {
	if v == nil {
		return []time.Time{}
	}
	return v
}

func (s *Store) ListGuilds(ctx context.Context) ([]store.GuildConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT guild_id, spawn_channel_id, next_spawn_at, approved,
		       spawn_allow_list, steal_immune_list, banned_admin_list, recent_steal_times
		FROM packrat.guilds
		ORDER BY guild_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.GuildConfig
	for rows.Next() {
		var g store.GuildConfig
		var nextSpawn *time.Time
		if err := rows.Scan(&g.GuildID, &g.SpawnChannelID, &nextSpawn, &g.Approved,
			&g.SpawnAllowList, &g.StealImmuneList, &g.BannedAdminList, &g.RecentStealTimes); err != nil {
			return nil, err
		}
		if nextSpawn != nil {
			g.NextSpawnAt = *nextSpawn
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) AppendSpawn(ctx context.Context, e store.SpawnHistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO packrat.spawn_log (at, guild_id, card_name) VALUES ($1, $2, $3)
	`, e.At, e.GuildID, e.CardName)
	return err
}

func (s *Store) RecentSpawnNames(ctx context.Context, guildID string, n int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT card_name FROM packrat.spawn_log
		WHERE guild_id = $1
		ORDER BY at DESC, id DESC
		LIMIT $2
	`, guildID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) SpawnCountsOn(ctx context.Context, guildID string, day time.Time) (map[string]int, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	rows, err := s.pool.Query(ctx, `
		SELECT card_name, COUNT(1)
		FROM packrat.spawn_log
		WHERE guild_id = $1 AND at >= $2 AND at < $3
		GROUP BY card_name
	`, guildID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

func (s *Store) AppendClaim(ctx context.Context, e store.ClaimLogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO packrat.claim_log (at, guild_id, user_id, card_name, instance_id)
		VALUES ($1, $2, $3, $4, $5)
	`, e.At, e.GuildID, e.UserID, e.CardName, e.InstanceID)
	return err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
