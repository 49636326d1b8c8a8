// Command generate_snapshot writes a synthetic input snapshot for
// pipeline runs and benchmarks.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/testutils"
)

func main() {
	var (
		users       = flag.Int("users", 20, "Number of contributors")
		entities    = flag.Int("entities", 12, "Number of rated entities")
		comparisons = flag.Int("comparisons", 8, "Comparisons per user per criterion")
		criteria    = flag.String("criteria", "quality", "Comma-separated criteria")
		seed        = flag.Int64("seed", 42, "Random seed")
		outputPath  = flag.String("output", "testdata/snapshots/sample_snapshot.json", "Output file path")
	)
	flag.Parse()

	config := testutils.DefaultGeneratorConfig()
	config.Users = *users
	config.Entities = *entities
	config.ComparisonsPerUser = *comparisons
	config.Criteria = nil
	for _, c := range strings.Split(*criteria, ",") {
		if c = strings.TrimSpace(c); c != "" {
			config.Criteria = append(config.Criteria, domain.Criterion(c))
		}
	}

	snapshot := testutils.GenerateSnapshot(config, *seed)
	if err := testutils.SaveSnapshot(snapshot, *outputPath); err != nil {
		log.Fatalf("Failed to save snapshot: %v", err)
	}

	total := 0
	for _, cs := range snapshot.Comparison {
		total += len(cs)
	}
	pretrusted := 0
	for _, u := range snapshot.UserList {
		if u.Pretrusted {
			pretrusted++
		}
	}

	fmt.Printf("Generated snapshot:\n")
	fmt.Printf("- Path: %s\n", *outputPath)
	fmt.Printf("- Users: %d (%d pre-trusted)\n", len(snapshot.UserList), pretrusted)
	fmt.Printf("- Entities: %d\n", len(snapshot.EntityList))
	fmt.Printf("- Vouches: %d\n", len(snapshot.VouchList))
	fmt.Printf("- Comparisons: %d across %d criteria\n", total, len(snapshot.Comparison))
	fmt.Printf("- Public ratings: %d\n", len(snapshot.PublicFlags))
}
