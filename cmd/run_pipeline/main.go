// Command run_pipeline executes the full scoring pipeline over a JSON
// snapshot and writes the results to stdout or a JSON file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/ahrav/go-consensus/internal/application"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/testutils"
)

func main() {
	var (
		snapshotPath = flag.String("snapshot", "", "Input snapshot JSON file (required)")
		configPath   = flag.String("config", "", "Optional YAML configuration file")
		outputPath   = flag.String("output", "", "Optional results JSON file; omit to print a summary only")
		timeout      = flag.Duration("timeout", 10*time.Minute, "Run timeout")
		verbose      = flag.Bool("v", false, "Enable debug logging")
	)
	flag.Parse()

	if *snapshotPath == "" {
		flag.Usage()
		log.Fatal("a -snapshot file is required")
	}

	config := application.DefaultConfig()
	if *configPath != "" {
		var err error
		config, err = application.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	snapshot, err := testutils.LoadSnapshot(*snapshotPath)
	if err != nil {
		log.Fatalf("Failed to load snapshot: %v", err)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	pipeline, err := application.NewPipeline(config, logger, nil)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	started := time.Now()
	recorder := &testutils.Recorder{}
	if err := pipeline.Run(ctx, snapshot, recorder); err != nil {
		log.Fatalf("Pipeline run failed: %v", err)
	}

	fmt.Printf("Pipeline run complete in %s:\n", time.Since(started).Round(time.Millisecond))
	fmt.Printf("- Trust scores: %d\n", len(recorder.Trust))
	fmt.Printf("- Voting rights: %d\n", len(recorder.Rights))
	fmt.Printf("- User model scores: %d\n", len(recorder.Model))
	fmt.Printf("- Scalings: %d\n", len(recorder.Scaling))
	fmt.Printf("- Collective scores: %d\n", len(recorder.Collective))

	printRanking(recorder)

	if *outputPath != "" {
		if err := saveResults(recorder, *outputPath); err != nil {
			log.Fatalf("Failed to save results: %v", err)
		}
		fmt.Printf("\nResults saved to %s\n", *outputPath)
	}
}

// printRanking prints the default-mode collective ranking, best first.
func printRanking(recorder *testutils.Recorder) {
	type ranked struct {
		entity domain.EntityID
		score  domain.Score
	}
	byEntity := recorder.CollectiveByEntity(domain.ModeDefault)
	ranking := make([]ranked, 0, len(byEntity))
	for entity, score := range byEntity {
		ranking = append(ranking, ranked{entity: entity, score: score})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].score.Value != ranking[j].score.Value {
			return ranking[i].score.Value > ranking[j].score.Value
		}
		return ranking[i].entity < ranking[j].entity
	})

	fmt.Printf("\nCollective ranking (default mode):\n")
	for i, r := range ranking {
		fmt.Printf("%3d. %-24s %+8.2f  (-%.2f / +%.2f)\n",
			i+1, r.entity, r.score.Value, r.score.LeftUnc, r.score.RightUnc)
	}
}

func saveResults(recorder *testutils.Recorder, path string) error {
	results := struct {
		Trust      []testutils.TrustEntry      `json:"trust"`
		Rights     []testutils.RightsEntry     `json:"voting_rights"`
		Models     []testutils.ModelEntry      `json:"user_models"`
		Scalings   []testutils.ScalingEntry    `json:"scalings"`
		Collective []testutils.CollectiveEntry `json:"collective_scores"`
	}{recorder.Trust, recorder.Rights, recorder.Model, recorder.Scaling, recorder.Collective}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
