package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"packrat/internal/store"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, dir
}

func rec(instance, owner, card string) store.InventoryRecord {
	return store.InventoryRecord{
		InstanceID: instance,
		OwnerID:    owner,
		CardName:   card,
		AcquiredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRemoveOneTakesExactlyOneCopy(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	for _, r := range []store.InventoryRecord{
		rec("i1", "u1", "Ember Fox"),
		rec("i2", "u1", "Ember Fox"),
		rec("i3", "u2", "Ember Fox"),
	} {
		if err := s.AddCard(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := s.RemoveOne(ctx, "u1", "Ember Fox")
	if err != nil {
		t.Fatal(err)
	}
	if removed.InstanceID != "i1" {
		t.Fatalf("removed %q, want first matching copy i1", removed.InstanceID)
	}

	left, err := s.ListFor(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].InstanceID != "i2" {
		t.Fatalf("remaining = %+v, want just i2", left)
	}
	if _, err := s.FindOwned(ctx, "u2", "Ember Fox"); err != nil {
		t.Fatal("another owner's copy must not be touched")
	}
}

func TestRemoveOneMissingLeavesStateUntouched(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	if err := s.AddCard(ctx, rec("i1", "u1", "Ember Fox")); err != nil {
		t.Fatal(err)
	}

	if _, err := s.RemoveOne(ctx, "u1", "Moon Crab"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.RemoveOne(ctx, "u2", "Ember Fox"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	recs, err := s.ListFor(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("inventory = %+v, want untouched", recs)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	s, dir := openTestStore(t)
	ctx := context.Background()

	if err := s.AddCard(ctx, rec("i1", "u1", "Ember Fox")); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordOriginal(ctx, "i1", "u1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveGuild(ctx, store.GuildConfig{GuildID: "g1", Approved: true, SpawnChannelID: "c1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendSpawn(ctx, store.SpawnHistoryEntry{At: time.Now(), GuildID: "g1", CardName: "Ember Fox"}); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reopened.FindOwned(ctx, "u1", "Ember Fox"); err != nil {
		t.Fatalf("inventory lost on reopen: %v", err)
	}
	orig, ok, err := reopened.LookupOriginal(ctx, "i1")
	if err != nil || !ok || orig != "u1" {
		t.Fatalf("provenance lost on reopen: %q, %v, %v", orig, ok, err)
	}
	g, err := reopened.Guild(ctx, "g1")
	if err != nil || !g.Approved || g.SpawnChannelID != "c1" {
		t.Fatalf("guild config lost on reopen: %+v, %v", g, err)
	}
	recent, err := reopened.RecentSpawnNames(ctx, "g1", 10)
	if err != nil || len(recent) != 1 || recent[0] != "Ember Fox" {
		t.Fatalf("spawn log lost on reopen: %v, %v", recent, err)
	}
}

func TestCorruptFileReadsAsEmpty(t *testing.T) {
	s, dir := openTestStore(t)
	ctx := context.Background()
	if err := s.AddCard(ctx, rec("i1", "u1", "Ember Fox")); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, inventoryFile), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("corrupt file must not fail open: %v", err)
	}
	recs, err := reopened.ListFor(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("corrupt inventory read as %+v, want empty", recs)
	}

	// The next write rebuilds a valid file.
	if err := reopened.AddCard(ctx, rec("i2", "u1", "Moon Crab")); err != nil {
		t.Fatal(err)
	}
	again, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	recs, err = again.ListFor(ctx, "u1")
	if err != nil || len(recs) != 1 || recs[0].InstanceID != "i2" {
		t.Fatalf("rebuilt inventory = %+v, %v", recs, err)
	}
}

func TestRecordOriginalNeverOverwrites(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordOriginal(ctx, "i1", "first", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordOriginal(ctx, "i1", "second", time.Now()); err != nil {
		t.Fatal(err)
	}

	orig, ok, err := s.LookupOriginal(ctx, "i1")
	if err != nil || !ok || orig != "first" {
		t.Fatalf("original = %q, %v, %v; want first writer kept", orig, ok, err)
	}
}

func TestTransferInstanceChecksOwner(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	if err := s.AddCard(ctx, rec("i1", "u1", "Ember Fox")); err != nil {
		t.Fatal(err)
	}

	if _, err := s.TransferInstance(ctx, "i1", "u2", "u3", false); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("wrong owner: %v, want ErrNotFound", err)
	}
	if _, err := s.FindOwned(ctx, "u1", "Ember Fox"); err != nil {
		t.Fatal("failed transfer must not move the card")
	}

	moved, err := s.TransferInstance(ctx, "i1", "u1", "u2", true)
	if err != nil {
		t.Fatal(err)
	}
	if moved.OwnerID != "u2" || !moved.Stolen || moved.InstanceID != "i1" {
		t.Fatalf("moved = %+v", moved)
	}
	if _, err := s.FindOwned(ctx, "u1", "Ember Fox"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("old owner still holds the card")
	}
}

func TestGuildConfigSnapshotsAreIsolated(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	saved := store.GuildConfig{
		GuildID:          "g1",
		StealImmuneList:  []string{"alice", "bob"},
		RecentStealTimes: []time.Time{time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	if err := s.SaveGuild(ctx, saved); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's config after the save must not reach the store.
	saved.StealImmuneList[0] = "mallory"
	g, err := s.Guild(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if g.StealImmuneList[0] != "alice" {
		t.Fatalf("immune list = %v, save must copy its input", g.StealImmuneList)
	}

	// Filtering a returned config's slices in place, the way callers prune
	// the attempt window, must not corrupt the stored state or an earlier
	// snapshot.
	held, err := s.Guild(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	victim := held.StealImmuneList
	filtered := g.StealImmuneList[:0]
	for _, id := range g.StealImmuneList {
		if id != "alice" {
			filtered = append(filtered, id)
		}
	}
	g.StealImmuneList = filtered
	g.RecentStealTimes = g.RecentStealTimes[:0]

	if victim[0] != "alice" || victim[1] != "bob" {
		t.Fatalf("earlier snapshot corrupted: %v", victim)
	}
	reread, err := s.Guild(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reread.StealImmuneList) != 2 || reread.StealImmuneList[0] != "alice" {
		t.Fatalf("stored immune list = %v, want untouched", reread.StealImmuneList)
	}
	if len(reread.RecentStealTimes) != 1 {
		t.Fatalf("stored attempt window = %v, want untouched", reread.RecentStealTimes)
	}

	listed, err := s.ListGuilds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	listed[0].StealImmuneList[0] = "mallory"
	reread, err = s.Guild(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if reread.StealImmuneList[0] != "alice" {
		t.Fatalf("list result shares storage: %v", reread.StealImmuneList)
	}
}

func TestRecentSpawnNamesOrderAndLimit(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"A", "B", "C", "D"} {
		e := store.SpawnHistoryEntry{At: at.Add(time.Duration(i) * time.Minute), GuildID: "g1", CardName: name}
		if err := s.AppendSpawn(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AppendSpawn(ctx, store.SpawnHistoryEntry{At: at, GuildID: "g2", CardName: "X"}); err != nil {
		t.Fatal(err)
	}

	recent, err := s.RecentSpawnNames(ctx, "g1", 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"D", "C", "B"}
	if len(recent) != len(want) {
		t.Fatalf("recent = %v, want %v", recent, want)
	}
	for i := range want {
		if recent[i] != want[i] {
			t.Fatalf("recent = %v, want %v", recent, want)
		}
	}
}

func TestSpawnCountsOnBucketsByUTCDay(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []store.SpawnHistoryEntry{
		{At: day.Add(time.Hour), GuildID: "g1", CardName: "A"},
		{At: day.Add(23*time.Hour + 59*time.Minute), GuildID: "g1", CardName: "A"},
		{At: day.Add(24 * time.Hour), GuildID: "g1", CardName: "A"}, // next day
		{At: day.Add(-time.Minute), GuildID: "g1", CardName: "A"},  // previous day
		{At: day.Add(time.Hour), GuildID: "g2", CardName: "A"},     // other guild
		{At: day.Add(2 * time.Hour), GuildID: "g1", CardName: "B"},
	}
	for _, e := range entries {
		if err := s.AppendSpawn(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := s.SpawnCountsOn(ctx, "g1", day.Add(12*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if counts["A"] != 2 || counts["B"] != 1 {
		t.Fatalf("counts = %v, want A:2 B:1", counts)
	}
}
