package worldgen

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Generator derives the immutable mine field for one game from its seed.
// Cell contents are a pure function of (x, y); nothing is ever stored
// beyond the bounded caches, so the working set tracks player activity
// rather than board area.
type Generator struct {
	seed      int64
	threshold float64
	noise     opensimplex.Noise

	mu         sync.Mutex
	mineCache  *boundedCache[bool]
	countCache *boundedCache[int]
}

// Options tunes cache capacities and mine density. Zero values fall back
// to the defaults (threshold 0.85, caches 10 000 / 5 000).
type Options struct {
	Threshold     float64
	MineCacheCap  int
	CountCacheCap int
}

const (
	defaultThreshold     = 0.85
	defaultMineCacheCap  = 10_000
	defaultCountCacheCap = 5_000

	// noiseScale spreads cell sampling across the noise field so that
	// neighbouring cells land on distinct gradients.
	noiseScale = 0.17
)

// New builds a generator for the given game id. Numeric ids seed the
// noise directly; anything else is hashed first so two distinct ids
// practically never share a field.
func New(gameID string, opts Options) *Generator {
	if opts.Threshold <= 0 || opts.Threshold >= 1 {
		opts.Threshold = defaultThreshold
	}
	if opts.MineCacheCap <= 0 {
		opts.MineCacheCap = defaultMineCacheCap
	}
	if opts.CountCacheCap <= 0 {
		opts.CountCacheCap = defaultCountCacheCap
	}
	seed := SeedFor(gameID)
	return &Generator{
		seed:       seed,
		threshold:  opts.Threshold,
		noise:      opensimplex.NewNormalized(seed),
		mineCache:  newBoundedCache[bool](opts.MineCacheCap),
		countCache: newBoundedCache[int](opts.CountCacheCap),
	}
}

// SeedFor maps a game id onto a noise seed.
func SeedFor(gameID string) int64 {
	if n, err := strconv.ParseInt(gameID, 10, 64); err == nil {
		return n
	}
	return int64(xxhash.Sum64String(gameID))
}

// Seed reports the resolved noise seed, mainly for diagnostics.
func (g *Generator) Seed() int64 { return g.seed }

// IsMine reports whether the cell at (x, y) holds a mine. Safe for
// concurrent use.
func (g *Generator) IsMine(x, y int) bool {
	key := cellKey(x, y)
	g.mu.Lock()
	if v, ok := g.mineCache.get(key); ok {
		g.mu.Unlock()
		return v
	}
	g.mu.Unlock()

	v := g.sample(x, y) < (1 - g.threshold)

	g.mu.Lock()
	g.mineCache.put(key, v)
	g.mu.Unlock()
	return v
}

// AdjacentCount returns how many of the eight Moore neighbours of (x, y)
// hold mines. The result is valid for mine cells too; callers decide
// whether it is meaningful.
func (g *Generator) AdjacentCount(x, y int) int {
	key := cellKey(x, y)
	g.mu.Lock()
	if v, ok := g.countCache.get(key); ok {
		g.mu.Unlock()
		return v
	}
	g.mu.Unlock()

	count := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if g.IsMine(x+dx, y+dy) {
				count++
			}
		}
	}

	g.mu.Lock()
	g.countCache.put(key, count)
	g.mu.Unlock()
	return count
}

func (g *Generator) sample(x, y int) float64 {
	return g.noise.Eval2(float64(x)*noiseScale, float64(y)*noiseScale)
}

func cellKey(x, y int) uint64 {
	return uint64(uint32(int32(x)))<<32 | uint64(uint32(int32(y)))
}

// boundedCache is a map with first-in eviction. It exists purely as an
// optimisation; evicting never changes what the generator returns.
type boundedCache[V any] struct {
	cap    int
	values map[uint64]V
	order  []uint64
	head   int
}

func newBoundedCache[V any](cap int) *boundedCache[V] {
	return &boundedCache[V]{
		cap:    cap,
		values: make(map[uint64]V, cap),
		order:  make([]uint64, 0, cap),
	}
}

func (c *boundedCache[V]) get(key uint64) (V, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *boundedCache[V]) put(key uint64, v V) {
	if _, ok := c.values[key]; ok {
		c.values[key] = v
		return
	}
	if len(c.values) >= c.cap {
		oldest := c.order[c.head]
		delete(c.values, oldest)
		c.order[c.head] = key
		c.head = (c.head + 1) % len(c.order)
	} else {
		c.order = append(c.order, key)
	}
	c.values[key] = v
}
