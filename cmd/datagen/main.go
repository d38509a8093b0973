package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chanuka/conflict-engine/internal/generator"
)

func main() {
	cfg := generator.DefaultConfig()
	var (
		entities       = flag.Int("entities", cfg.NumEntities, "number of companies to generate")
		sponsors       = flag.Int("sponsors", cfg.NumSponsors, "number of legislators to generate")
		bills          = flag.Int("bills", cfg.NumBills, "number of bills to generate")
		maxInterests   = flag.Int("max-interests", cfg.MaxInterests, "maximum declared interests per sponsor")
		conflictChance = flag.Float64("conflict-chance", cfg.ConflictChance, "probability a bill is generated with a planted conflict")
		aliasChance    = flag.Float64("alias-chance", cfg.AliasChance, "probability an entity carries an alternate name")
		familyChance   = flag.Float64("family-chance", cfg.FamilyChance, "probability an interest is held through family")
		edgesPer       = flag.Int("edges-per-entity", cfg.EdgesPerEntity, "influence edges generated per entity")
		seed           = flag.Int64("seed", cfg.Seed, "random seed for deterministic generation")
		outputDir      = flag.String("output-dir", "data", "directory to write the dataset files")
		writeStdout    = flag.Bool("stdout", false, "write combined dataset to stdout instead of files")
	)
	flag.Parse()

	genCfg := generator.Config{
		NumEntities:    *entities,
		NumSponsors:    *sponsors,
		NumBills:       *bills,
		MaxInterests:   *maxInterests,
		ConflictChance: clampProbability(*conflictChance),
		AliasChance:    clampProbability(*aliasChance),
		FamilyChance:   clampProbability(*familyChance),
		EdgesPerEntity: *edgesPer,
		Seed:           *seed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	gen := generator.New(genCfg)
	dataset, err := gen.Generate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	if *writeStdout {
		if err := json.NewEncoder(os.Stdout).Encode(dataset); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write dataset to stdout: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := generator.WriteDataset(dataset, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write dataset: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "Generated %d entities, %d sponsors, %d bills, %d interests, and %d edges into %s\n",
		len(dataset.Entities), len(dataset.Sponsors), len(dataset.Bills), len(dataset.Interests), len(dataset.Edges), *outputDir)
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
