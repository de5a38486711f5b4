// Package game implements the collectible-card economy engine: spawn
// scheduling, claim arbitration, steals with provenance-aware odds, and
// gift transfers over the inventory ledger.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"packrat/internal/catalog"
	"packrat/internal/store"
)

const (
	defaultSpawnMinInterval = 30 * time.Minute
	defaultSpawnMaxInterval = 90 * time.Minute
	defaultClaimWindow      = 120 * time.Second
	defaultStealSessionTTL  = 60 * time.Second
)

// Options carries the timing knobs; zero values fall back to defaults.
type Options struct {
	SpawnMinInterval time.Duration
	SpawnMaxInterval time.Duration
	ClaimWindow      time.Duration
	StealSessionTTL  time.Duration
}

func (o Options) withDefaults() Options {
	if o.SpawnMinInterval <= 0 {
		o.SpawnMinInterval = defaultSpawnMinInterval
	}
	if o.SpawnMaxInterval <= 0 {
		o.SpawnMaxInterval = defaultSpawnMaxInterval
	}
	if o.SpawnMaxInterval < o.SpawnMinInterval {
		o.SpawnMaxInterval = o.SpawnMinInterval
	}
	if o.ClaimWindow <= 0 {
		o.ClaimWindow = defaultClaimWindow
	}
	if o.StealSessionTTL <= 0 {
		o.StealSessionTTL = defaultStealSessionTTL
	}
	return o
}

// Service is the root of the engine. It owns the catalog (read-only), the
// store, the claim arbiter and the open steal sessions. The catalog may be
// nil when loading failed at startup; card-dependent features then degrade
// to "no cards available" instead of crashing.
type Service struct {
	catalog *catalog.Catalog
	store   store.Store
	log     *slog.Logger
	opts    Options

	mu   sync.Mutex
	rand *mathrand.Rand
	now  func() time.Time

	claims *claimArbiter

	stealMu sync.Mutex
	steals  map[string]*StealSession

	guildMu    sync.Mutex
	guildLocks map[string]*sync.Mutex
}

func NewService(cat *catalog.Catalog, st store.Store, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalog: cat,
		store:   st,
		log:     logger,
		opts:    opts.withDefaults(),
		rand:    mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		now:     func() time.Time { return time.Now().UTC() },
		claims:  newClaimArbiter(),
		steals:  make(map[string]*StealSession),

		guildLocks: make(map[string]*sync.Mutex),
	}
}

// lockGuild serializes read-modify-write cycles on one guild's config.
// Handlers run on separate goroutines, so every write to GuildConfig must
// re-read it inside this lock or a concurrent save gets overwritten.
func (s *Service) lockGuild(guildID string) func() {
	s.guildMu.Lock()
	l, ok := s.guildLocks[guildID]
	if !ok {
		l = &sync.Mutex{}
		s.guildLocks[guildID] = l
	}
	s.guildMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Catalog exposes the loaded card table; nil when startup loading failed.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// Store exposes the backing store for read-only surfaces (ops API, CLI).
func (s *Service) Store() store.Store { return s.store }

func (s *Service) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

func (s *Service) randIntn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Intn(n)
}

func newInstanceID() string { return uuid.NewString() }

// resolveCardName maps user input (any alias) to the canonical card name.
// Unknown inputs pass through untouched so records for retired cards stay
// reachable.
func (s *Service) resolveCardName(input string) string {
	if s.catalog == nil {
		return input
	}
	if card, ok := s.catalog.Find(input); ok {
		return card.Name
	}
	return input
}

// Give transfers one copy of a card, preserving its instance id. The stolen
// flag clears when the recipient is the recorded original claimer; a pure
// gift chain never sets it.
func (s *Service) Give(ctx context.Context, fromID, toID, cardName string) (store.InventoryRecord, error) {
	if fromID == toID {
		return store.InventoryRecord{}, ErrSelfGive
	}
	name := s.resolveCardName(cardName)
	rec, err := s.store.FindOwned(ctx, fromID, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.InventoryRecord{}, ErrCardGone
		}
		return store.InventoryRecord{}, fmt.Errorf("find card: %w", err)
	}

	stolen := rec.Stolen
	if stolen {
		orig, ok, err := s.store.LookupOriginal(ctx, rec.InstanceID)
		if err != nil {
			return store.InventoryRecord{}, fmt.Errorf("lookup provenance: %w", err)
		}
		if ok && orig == toID {
			stolen = false
		}
	}

	moved, err := s.store.TransferInstance(ctx, rec.InstanceID, fromID, toID, stolen)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.InventoryRecord{}, ErrCardGone
		}
		return store.InventoryRecord{}, fmt.Errorf("transfer: %w", err)
	}
	s.log.Info("card given",
		"from", fromID, "to", toID,
		"card", moved.CardName, "instance", moved.InstanceID, "stolen", moved.Stolen)
	return moved, nil
}

// InventoryItem is one line of a user's inventory view: copies of the same
// card collapsed into a count.
type InventoryItem struct {
	CardName string
	Tier     catalog.Tier
	Count    int
	Stolen   int
}

// Inventory lists a user's cards grouped by name, in first-acquired order.
func (s *Service) Inventory(ctx context.Context, userID string) ([]InventoryItem, error) {
	recs, err := s.store.ListFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	index := make(map[string]int)
	var out []InventoryItem
	for _, rec := range recs {
		i, ok := index[rec.CardName]
		if !ok {
			item := InventoryItem{CardName: rec.CardName}
			if s.catalog != nil {
				if card, found := s.catalog.ByName(rec.CardName); found {
					item.Tier = card.Tier
				}
			}
			index[rec.CardName] = len(out)
			out = append(out, item)
			i = len(out) - 1
		}
		out[i].Count++
		if rec.Stolen {
			out[i].Stolen++
		}
	}
	return out, nil
}

// ApproveGuild marks a guild as eligible for spawns and sets its channel.
// The first spawn is scheduled shortly after approval.
func (s *Service) ApproveGuild(ctx context.Context, guildID, channelID string) error {
	defer s.lockGuild(guildID)()
	g, err := s.store.Guild(ctx, guildID)
	if err != nil {
		return err
	}
	g.Approved = true
	g.SpawnChannelID = channelID
	if g.NextSpawnAt.IsZero() {
		g.NextSpawnAt = s.now().Add(time.Minute)
	}
	return s.store.SaveGuild(ctx, g)
}

// SetSpawnChannel updates where spawn announcements go.
func (s *Service) SetSpawnChannel(ctx context.Context, guildID, channelID string) error {
	defer s.lockGuild(guildID)()
	g, err := s.store.Guild(ctx, guildID)
	if err != nil {
		return err
	}
	g.SpawnChannelID = channelID
	return s.store.SaveGuild(ctx, g)
}

// SetStealImmunity adds or removes a user or role id from the guild's
// steal-immunity list.
func (s *Service) SetStealImmunity(ctx context.Context, guildID, id string, immune bool) error {
	defer s.lockGuild(guildID)()
	g, err := s.store.Guild(ctx, guildID)
	if err != nil {
		return err
	}
	list := g.StealImmuneList[:0]
	for _, v := range g.StealImmuneList {
		if v != id {
			list = append(list, v)
		}
	}
	if immune {
		list = append(list, id)
	}
	g.StealImmuneList = list
	return s.store.SaveGuild(ctx, g)
}
