package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"histostack/pkg/batch"
	"histostack/pkg/config"
	"histostack/pkg/logging"
	"histostack/pkg/scene"
)

func main() {
	// Parse command line arguments
	rootDir := flag.String("root", "", "Root directory containing one folder per case")
	configPath := flag.String("config", "histostack.yaml", "Path to the YAML configuration file")
	imageFolder := flag.String("images", "", "Name of the per-case image tile folder (default: HE)")
	extension := flag.String("ext", "", "Tile file extension filter (default: .png)")
	tileCap := flag.Int("cap", -1, "Keep only the N lowest tile indices per case (0 = unlimited)")
	workers := flag.Int("workers", 0, "Number of cases and tiles processed in parallel (default: all cores)")
	artifactPath := flag.String("artifact", "", "Scene artifact output path (default: _annotations beside the root)")
	noSave := flag.Bool("no-save", false, "Build without saving a scene artifact")
	verify := flag.Bool("verify", false, "Re-crop every built slice and compare it against its source tile")
	showSegments := flag.Bool("show-segments", false, "Mark non-background layers visible for the viewer")
	reportPath := flag.String("report", "", "Write the batch report as YAML to this path")
	logfile := flag.String("logfile", "", "Write logs to this rotating file instead of stderr")
	verbose := flag.Bool("verbose", false, "Enable debug-level logging")
	flag.Parse()

	// Validate inputs
	if *rootDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags override file values
	if *imageFolder != "" {
		cfg.Build.ImageFolder = *imageFolder
	}
	if *extension != "" {
		cfg.Build.Extension = *extension
	}
	if *tileCap >= 0 {
		cfg.Build.TileCap = *tileCap
	}
	if *workers > 0 {
		cfg.Build.Workers = *workers
	}
	if *artifactPath != "" {
		cfg.Build.ArtifactPath = *artifactPath
	}
	if *noSave {
		cfg.Build.SaveAfterBuild = false
	}
	if *verify {
		cfg.Build.Verify = true
	}
	if *showSegments {
		cfg.Build.ShowSegmentsByDefault = true
	}
	if *reportPath != "" {
		cfg.Build.ReportPath = *reportPath
	}
	if *logfile != "" {
		cfg.Logging.Logfile = *logfile
	}
	if *verbose {
		cfg.Logging.Verbose = true
	}

	setupLogging(cfg)
	defer logging.Shutdown()

	fmt.Println("================================")
	fmt.Println("TILE-STACK ASSEMBLY FOR SLICE-BY-SLICE HISTOLOGY ANNOTATION")
	fmt.Println("================================")

	startTime := time.Now()
	_, report, err := batch.Run(*rootDir, cfg, scene.FileStore{})
	if err != nil {
		logging.Criticalf("Build failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("\nBuild completed in %.2f seconds\n\n", time.Since(startTime).Seconds())
	fmt.Println(report.Summary())

	if report.CasesFailed > 0 {
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	if cfg.Logging.Verbose {
		logging.SetLogMode(logging.DebugMode)
	}
	lc := logging.LogConfig{
		Logfile: cfg.Logging.Logfile,
		MaxSize: cfg.Logging.MaxSize,
		MaxAge:  cfg.Logging.MaxAge,
	}
	lc.SetLogger()
}
