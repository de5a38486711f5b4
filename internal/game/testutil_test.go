package game

import (
	"io"
	"log/slog"
	mathrand "math/rand"
	"testing"
	"time"

	"packrat/internal/catalog"
	"packrat/internal/store/filestore"
)

// fixedSource pins math/rand output so steal rolls are deterministic.
// Int63 of 0 rolls 0.0; 1<<62 rolls 50.0.
type fixedSource struct{ v int64 }

func (f fixedSource) Int63() int64 { return f.v }
func (f fixedSource) Seed(int64)   {}

func mkCard(name string, tier catalog.Tier, weight int) catalog.Card {
	return catalog.Card{Name: name, Tier: tier, Weight: weight}
}

func testCatalog(t *testing.T, cards ...catalog.Card) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(cards)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return cat
}

func newTestService(t *testing.T, cat *catalog.Catalog) *Service {
	t.Helper()
	st, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(cat, st, logger, Options{
		SpawnMinInterval: time.Minute,
		SpawnMaxInterval: 2 * time.Minute,
		ClaimWindow:      2 * time.Minute,
		StealSessionTTL:  time.Minute,
	})
	svc.rand = mathrand.New(mathrand.NewSource(42))
	return svc
}

// freezeTime pins the service clock and returns a function to advance it.
func freezeTime(svc *Service, at time.Time) func(d time.Duration) {
	current := at
	svc.now = func() time.Time { return current }
	return func(d time.Duration) { current = current.Add(d) }
}

// setRoll forces the next steal roll: value in [0, 100).
func setRoll(svc *Service, roll float64) {
	svc.rand = mathrand.New(fixedSource{v: int64(roll / 100 * (1 << 63))})
}
