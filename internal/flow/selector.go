package flow

import (
	"fmt"
	"math/rand/v2"

	"github.com/BTreeMap/BookPipe/internal/models"
)

// SelectQuestions draws n distinct questions from catalog uniformly at random.
// Draw order is ask order. The catalog itself is not modified.
func SelectQuestions(catalog []models.Question, n int, rng *rand.Rand) ([]models.Question, error) {
	if n <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("subset size must be positive, got %d", n)}
	}
	if len(catalog) < n {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("catalog has %d questions, need at least %d", len(catalog), n)}
	}

	pool := make([]models.Question, len(catalog))
	copy(pool, catalog)
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	selected := make([]models.Question, n)
	copy(selected, pool[:n])
	return selected, nil
}

// newRand returns a generator seeded from the runtime's random source.
func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
