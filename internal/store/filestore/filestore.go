// Package filestore is the flat-file Store backend. Inventory, provenance
// and guild configs live in JSON files that are rewritten through a temp
// file and an atomic rename; the spawn and claim logs are append-only JSON
// lines. A missing or unparsable file reads as empty state, and the next
// write reconstructs it.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"packrat/internal/store"
)

const (
	inventoryFile  = "inventory.json"
	provenanceFile = "provenance.json"
	guildsFile     = "guilds.json"
	spawnLogFile   = "spawns.jsonl"
	claimLogFile   = "claims.jsonl"
)

type Store struct {
	dir string

	mu         sync.Mutex
	inventory  []store.InventoryRecord
	provenance map[string]store.ProvenanceEntry
	guilds     map[string]store.GuildConfig
	spawns     []store.SpawnHistoryEntry
}

// Open loads existing state from dir, creating the directory if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{
		dir:        dir,
		provenance: make(map[string]store.ProvenanceEntry),
		guilds:     make(map[string]store.GuildConfig),
	}
	loadJSON(filepath.Join(dir, inventoryFile), &s.inventory)

	var provs []store.ProvenanceEntry
	loadJSON(filepath.Join(dir, provenanceFile), &provs)
	for _, p := range provs {
		s.provenance[p.InstanceID] = p
	}

	var guilds []store.GuildConfig
	loadJSON(filepath.Join(dir, guildsFile), &guilds)
	for _, g := range guilds {
		s.guilds[g.GuildID] = g
	}

	s.spawns = loadSpawnLog(filepath.Join(dir, spawnLogFile))
	return s, nil
}

// loadJSON fills out from the file at path. Missing or corrupt files are
// treated as empty state, never as a failure.
func loadJSON(path string, out any) {
	raw, err := os.ReadFile(path)
	if err != nil || len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, out)
}

func loadSpawnLog(path string) []store.SpawnHistoryEntry {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []store.SpawnHistoryEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e store.SpawnHistoryEntry
		if json.Unmarshal(sc.Bytes(), &e) == nil && e.CardName != "" {
			out = append(out, e)
		}
	}
	return out
}

// writeAtomic marshals v and replaces path in one rename so a crash mid-write
// leaves either the old file or the new one, never a partial file.
func writeAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func appendLine(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(raw, '\n'))
	return err
}

func (s *Store) flushInventory() error {
	return writeAtomic(filepath.Join(s.dir, inventoryFile), s.inventory)
}

func (s *Store) flushProvenance() error {
	entries := make([]store.ProvenanceEntry, 0, len(s.provenance))
	for _, p := range s.provenance {
		entries = append(entries, p)
	}
	return writeAtomic(filepath.Join(s.dir, provenanceFile), entries)
}

func (s *Store) flushGuilds() error {
	guilds := make([]store.GuildConfig, 0, len(s.guilds))
	for _, g := range s.guilds {
		guilds = append(guilds, g)
	}
	return writeAtomic(filepath.Join(s.dir, guildsFile), guilds)
}

func (s *Store) AddCard(_ context.Context, rec store.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory = append(s.inventory, rec)
	return s.flushInventory()
}

func (s *Store) RemoveOne(_ context.Context, ownerID, cardName string) (store.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.inventory {
		if rec.OwnerID == ownerID && rec.CardName == cardName {
			s.inventory = append(s.inventory[:i], s.inventory[i+1:]...)
			if err := s.flushInventory(); err != nil {
				return store.InventoryRecord{}, err
			}
			return rec, nil
		}
	}
	return store.InventoryRecord{}, store.ErrNotFound
}

func (s *Store) FindOwned(_ context.Context, ownerID, cardName string) (store.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.inventory {
		if rec.OwnerID == ownerID && rec.CardName == cardName {
			return rec, nil
		}
	}
	return store.InventoryRecord{}, store.ErrNotFound
}

func (s *Store) ListFor(_ context.Context, ownerID string) ([]store.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.InventoryRecord
	for _, rec := range s.inventory {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) TransferInstance(_ context.Context, instanceID, fromOwnerID, toOwnerID string, stolen bool) (store.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.inventory {
		if rec.InstanceID == instanceID && rec.OwnerID == fromOwnerID {
			rec.OwnerID = toOwnerID
			rec.Stolen = stolen
			rec.AcquiredAt = time.Now().UTC()
			s.inventory[i] = rec
			if err := s.flushInventory(); err != nil {
				return store.InventoryRecord{}, err
			}
			return rec, nil
		}
	}
	return store.InventoryRecord{}, store.ErrNotFound
}

func (s *Store) RecordOriginal(_ context.Context, instanceID, claimerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.provenance[instanceID]; exists {
		return nil
	}
	s.provenance[instanceID] = store.ProvenanceEntry{
		InstanceID:      instanceID,
		OriginalOwnerID: claimerID,
		ClaimedAt:       at,
	}
	return s.flushProvenance()
}

func (s *Store) LookupOriginal(_ context.Context, instanceID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.provenance[instanceID]
	if !ok {
		return "", false, nil
	}
	return p.OriginalOwnerID, true, nil
}

// cloneGuild copies the config's slices so returned snapshots never share
// backing arrays with the map. Callers filter those slices in place; without
// the copy that mutation would reach inside the store past its mutex.
func cloneGuild(g store.GuildConfig) store.GuildConfig {
	g.SpawnAllowList = append([]string(nil), g.SpawnAllowList...)
	g.StealImmuneList = append([]string(nil), g.StealImmuneList...)
	g.BannedAdminList = append([]string(nil), g.BannedAdminList...)
	g.RecentStealTimes = append([]time.Time(nil), g.RecentStealTimes...)
	return g
}

func (s *Store) Guild(_ context.Context, guildID string) (store.GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.guilds[guildID]; ok {
		return cloneGuild(g), nil
	}
	return store.GuildConfig{GuildID: guildID}, nil
}

func (s *Store) SaveGuild(_ context.Context, cfg store.GuildConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guilds[cfg.GuildID] = cloneGuild(cfg)
	return s.flushGuilds()
}

func (s *Store) ListGuilds(_ context.Context) ([]store.GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.GuildConfig, 0, len(s.guilds))
	for _, g := range s.guilds {
		out = append(out, cloneGuild(g))
	}
	return out, nil
}

func (s *Store) AppendSpawn(_ context.Context, e store.SpawnHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawns = append(s.spawns, e)
	return appendLine(filepath.Join(s.dir, spawnLogFile), e)
}

func (s *Store) RecentSpawnNames(_ context.Context, guildID string, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for i := len(s.spawns) - 1; i >= 0 && len(out) < n; i-- {
		if s.spawns[i].GuildID == guildID {
			out = append(out, s.spawns[i].CardName)
		}
	}
	return out, nil
}

func (s *Store) SpawnCountsOn(_ context.Context, guildID string, day time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	y, m, d := day.UTC().Date()
	counts := make(map[string]int)
	for _, e := range s.spawns {
		ey, em, ed := e.At.UTC().Date()
		if e.GuildID == guildID && ey == y && em == m && ed == d {
			counts[e.CardName]++
		}
	}
	return counts, nil
}

func (s *Store) AppendClaim(_ context.Context, e store.ClaimLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(filepath.Join(s.dir, claimLogFile), e)
}

func (s *Store) Close() error { return nil }
