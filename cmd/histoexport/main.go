package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"histostack/pkg/config"
	"histostack/pkg/export"
	"histostack/pkg/logging"
	"histostack/pkg/scene"
)

func main() {
	// Parse command line arguments
	scenePath := flag.String("scene", "", "Scene artifact to export edited masks from")
	rootDir := flag.String("root", "", "Root directory to write tiles under (default: recorded in the scene)")
	configPath := flag.String("config", "histostack.yaml", "Path to the YAML configuration file")
	tag := flag.String("tag", "", "Filename tag appended before the extension (default: _edited)")
	extension := flag.String("ext", "", "Output tile extension: .png, .tiff, .bmp or .jpg (default: .png)")
	emitPolicy := flag.String("emit", "", "Which slices produce files: annotated-or-source, annotated-only or all")
	workers := flag.Int("workers", 0, "Number of slices exported in parallel (default: all cores)")
	logfile := flag.String("logfile", "", "Write logs to this rotating file instead of stderr")
	verbose := flag.Bool("verbose", false, "Enable debug-level logging")
	flag.Parse()

	// Validate inputs
	if *scenePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags override file values
	if *tag != "" {
		cfg.Export.Tag = *tag
	}
	if *extension != "" {
		cfg.Build.Extension = *extension
	}
	if *emitPolicy != "" {
		cfg.Export.EmitPolicy = *emitPolicy
	}
	if *workers > 0 {
		cfg.Build.Workers = *workers
	}
	if *logfile != "" {
		cfg.Logging.Logfile = *logfile
	}
	if *verbose {
		cfg.Logging.Verbose = true
	}

	setupLogging(cfg)
	defer logging.Shutdown()

	policy, err := export.ParsePolicy(cfg.Export.EmitPolicy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid emit policy: %v\n", err)
		os.Exit(1)
	}

	store := scene.FileStore{}
	sc, err := store.Load(*scenePath)
	if err != nil {
		logging.Criticalf("Failed to load scene: %v", err)
		os.Exit(1)
	}

	root := *rootDir
	if root == "" {
		root = sc.Root
	}

	fmt.Printf("Exporting %d case(s) to %s\n", len(sc.Cases), root)

	startTime := time.Now()
	res, err := export.Run(sc, export.Options{
		Root:    root,
		Tag:     cfg.Export.Tag,
		Ext:     cfg.Build.Extension,
		Policy:  policy,
		Workers: cfg.Build.Workers,
	})
	if err != nil {
		logging.Criticalf("Export failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("\nExport completed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Wrote %d tile(s) (%s), skipped %d\n",
		res.Written, humanize.Bytes(uint64(res.Bytes)), res.Skipped)

	if len(res.Failures) > 0 {
		fmt.Printf("%d slice(s) failed:\n", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Printf("  %s/%s tile %d (%s): %v\n", f.CaseID, f.Class, f.TileIndex, f.Kind(), f.Err)
		}
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
