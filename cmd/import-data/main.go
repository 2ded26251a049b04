package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"gdp_atlas_go/config"
	"gdp_atlas_go/db"
	"gdp_atlas_go/logging"
	"gdp_atlas_go/models"
	"gdp_atlas_go/services"
)

func main() {
	upsert := flag.Bool("upsert", false, "revise existing entries instead of failing on duplicates")
	seed := flag.Bool("seed", true, "load the country reference dataset before importing")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-upsert] [-seed=false] <file.csv|file.xlsx>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	// Load configuration
	cfg := config.Load()

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	database, err := db.Open(cfg)
	if err != nil {
		logger.Fatalw("failed to open database", "error", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		logger.Fatalw("failed to run migrations", "error", err)
	}

	ctx := context.Background()
	if *seed {
		if _, err := services.SeedCountriesFromFile(ctx, database, cfg.CountriesFile); err != nil {
			logger.Fatalw("failed to load countries", "file", cfg.CountriesFile, "error", err)
		}
	}

	mode := models.ImportModeInsert
	if *upsert {
		mode = models.ImportModeUpsert
	}

	importer := services.NewEntryImporter(database, logger)
	result, err := importer.ImportFile(ctx, path, services.ImportOptions{Mode: mode})
	if err != nil {
		logger.Fatalw("import failed, no data was saved", "file", path, "error", err)
	}

	fmt.Printf("Processed %d rows: %d imported, %d skipped, %d failed\n",
		result.TotalProcessed, result.ImportedCount, result.SkippedCount, result.FailedCount)
	for _, msg := range result.Errors {
		fmt.Println("  " + msg)
	}
}
