package playtest

import (
	"fmt"
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// generator produces game data from a seeded faker so runs can be replayed.
type generator struct {
	faker *gofakeit.Faker
	seed  uint64
	run   string
}

func newGenerator(seed uint64) *generator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	f := gofakeit.New(seed)
	return &generator{faker: f, seed: seed, run: f.Numerify("####")}
}

// username returns a unique name within this run.
func (g *generator) username(i int) string {
	return fmt.Sprintf("%s_%s_%d", g.faker.Username(), g.run, i)
}

func (g *generator) sampleName() string {
	return g.faker.ProductName()
}

func (g *generator) description() string {
	return g.faker.ProductDescription()
}

// rating returns a value on the game's half-point grid in [0, 10].
func (g *generator) rating() float64 {
	return math.Round(g.faker.Float64Range(0, 10)*2) / 2
}

// guess returns a value near canonical, clamped to [0, 10].
func (g *generator) guess(canonical float64) float64 {
	v := canonical + g.faker.Float64Range(-4, 4)
	return math.Round(min(max(v, 0), 10)*10) / 10
}

func (g *generator) duplicate(rate float64) bool {
	return g.faker.Float64Range(0, 1) < rate
}
