package sensor

import (
	"math/rand/v2"
)

// Simulated produces plausible outdoor readings for development hosts
// without a sensor attached.
type Simulated struct {
	rng *rand.Rand
}

// NewSimulated returns a Simulated sensor. A nil rng uses a randomly
// seeded source.
func NewSimulated(rng *rand.Rand) *Simulated {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulated{rng: rng}
}

func (s *Simulated) Name() string {
	return "simulated"
}

func (s *Simulated) Measure() (Reading, error) {
	return Reading{
		Temperature: 15.0 + s.rng.Float64()*10.0,
		Humidity:    40.0 + s.rng.Float64()*40.0,
	}, nil
}

func (s *Simulated) Close() error {
	return nil
}
