package generator

// Config drives the synthetic dataset generator.
type Config struct {
	NumEntities    int
	NumSponsors    int
	NumBills       int
	MaxInterests   int
	ConflictChance float64
	AliasChance    float64
	FamilyChance   float64
	EdgesPerEntity int
	Seed           int64
}

// DefaultConfig returns baseline settings producing a dataset with a
// realistic mix of clean bills and planted conflicts.
func DefaultConfig() Config {
	return Config{
		NumEntities:    500,
		NumSponsors:    120,
		NumBills:       80,
		MaxInterests:   4,
		ConflictChance: 0.3,
		AliasChance:    0.2,
		FamilyChance:   0.15,
		EdgesPerEntity: 2,
		Seed:           42,
	}
}
