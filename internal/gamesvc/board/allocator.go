package board

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/secretwords/game-services/internal/gamesvc/models"
)

const (
	// Rows and Cols fix the board at 5x5.
	Rows = 5
	Cols = 5
	// Size is the number of tiles on one board.
	Size = Rows * Cols
)

// Cell is one allocated board slot: a word paired with a team.
type Cell struct {
	X    int
	Y    int
	Word string
	Team models.Team
}

// Allocator draws non-repeating words from a shared pool and assigns
// balanced random teams to board positions. The pool is refilled and
// reshuffled once exhausted, so a word never repeats within a single
// board but may reappear in later games.
type Allocator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	source []string
	pool   []string
}

// NewAllocator builds an allocator over a deduplicated word pool.
// A pool with fewer than Size unique words cannot fill a board; that
// is a configuration error, not a runtime condition.
func NewAllocator(words []string) (*Allocator, error) {
	seen := make(map[string]struct{}, len(words))
	source := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		source = append(source, w)
	}
	if len(source) < Size {
		return nil, fmt.Errorf("word pool has %d unique words, need at least %d", len(source), Size)
	}
	return &Allocator{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		source: source,
	}, nil
}

// Seed fixes the random source, for deterministic tests.
func (a *Allocator) Seed(seed int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rng = rand.New(rand.NewSource(seed))
}

// Board produces the Size cells for one game: every word distinct,
// team counts fixed at 1 Death, 9 for the starting team, 8 for the
// opposing team and 7 unassigned.
func (a *Allocator) Board(firstTeam models.Team) []Cell {
	a.mu.Lock()
	defer a.mu.Unlock()

	bag := teamBag(firstTeam)
	cells := make([]Cell, 0, Size)
	for x := 0; x < Cols; x++ {
		for y := 0; y < Rows; y++ {
			cells = append(cells, Cell{
				X:    x,
				Y:    y,
				Word: a.nextWord(),
				Team: a.drawTeam(&bag),
			})
		}
	}
	return cells
}

// nextWord draws without replacement, refilling from the source pool
// when empty. Callers hold a.mu.
func (a *Allocator) nextWord() string {
	if len(a.pool) == 0 {
		a.pool = append(a.pool[:0], a.source...)
	}
	i := a.rng.Intn(len(a.pool))
	w := a.pool[i]
	a.pool[i] = a.pool[len(a.pool)-1]
	a.pool = a.pool[:len(a.pool)-1]
	return w
}

func (a *Allocator) drawTeam(bag *[]models.Team) models.Team {
	b := *bag
	i := a.rng.Intn(len(b))
	t := b[i]
	b[i] = b[len(b)-1]
	*bag = b[:len(b)-1]
	return t
}

// teamBag is the fixed 25-slot bag: the death tile, one extra slot for
// the starting team, then eight red/blue pairs with seven fillers.
func teamBag(firstTeam models.Team) []models.Team {
	bag := []models.Team{models.TeamDeath, firstTeam}
	for i := 0; i < 8; i++ {
		bag = append(bag, models.TeamRed, models.TeamBlue)
		if i < 7 {
			bag = append(bag, models.TeamNone)
		}
	}
	return bag
}

// Position is a board coordinate with its derived document key.
type Position struct {
	ID string
	X  int
	Y  int
}

// Positions lists the Size tile keys of a game in a fixed order.
func Positions(gameId string) []Position {
	positions := make([]Position, 0, Size)
	for x := 0; x < Cols; x++ {
		for y := 0; y < Rows; y++ {
			positions = append(positions, Position{
				ID: models.TileID(gameId, x, y),
				X:  x,
				Y:  y,
			})
		}
	}
	return positions
}
