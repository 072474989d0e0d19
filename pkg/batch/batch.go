// Package batch runs the per-case build pipeline over every case folder
// under a root directory and aggregates the results into one scene.
// Failures are contained per case: one bad case is recorded in the report
// and the rest of the batch keeps going.
package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"histostack/internal/models"
	"histostack/pkg/catalog"
	"histostack/pkg/config"
	"histostack/pkg/logging"
	"histostack/pkg/metrics"
	"histostack/pkg/planner"
	"histostack/pkg/scene"
	"histostack/pkg/stack"
)

// CaseResult records the outcome of one case pipeline.
type CaseResult struct {
	CaseID string `yaml:"case"`

	// Kind is empty on success, otherwise the failure taxonomy name
	Kind  string `yaml:"kind,omitempty"`
	Error string `yaml:"error,omitempty"`

	Slices int `yaml:"slices,omitempty"`
	Layers int `yaml:"layers,omitempty"`

	// RoundTrip and Coverage are filled when verification is enabled
	RoundTrip *metrics.RoundTripMetrics `yaml:"roundTrip,omitempty"`
	Coverage  []metrics.CoverageStats   `yaml:"coverage,omitempty"`
}

// Failed reports whether the case pipeline stopped on an error.
func (r CaseResult) Failed() bool {
	return r.Kind != ""
}

// Report is the machine-checkable outcome of a batch run.
type Report struct {
	Root  string    `yaml:"root"`
	Built time.Time `yaml:"built"`

	CasesOK     int `yaml:"casesOk"`
	CasesFailed int `yaml:"casesFailed"`
	SlicesTotal int `yaml:"slicesTotal"`

	ArtifactPath string `yaml:"artifactPath,omitempty"`
	ArtifactSize string `yaml:"artifactSize,omitempty"`

	Cases []CaseResult `yaml:"cases"`
}

// Summary renders the report as the human-readable text the CLIs print.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d case(s): %d ok, %d failed\n",
		len(r.Cases), r.CasesOK, r.CasesFailed)

	for _, c := range r.Cases {
		if c.Failed() {
			fmt.Fprintf(&b, "  %s: FAILED (%s): %s\n", c.CaseID, c.Kind, c.Error)
			continue
		}
		fmt.Fprintf(&b, "  %s: %d slice(s), %d layer(s)", c.CaseID, c.Slices, c.Layers)
		if c.RoundTrip != nil {
			if c.RoundTrip.Mismatched == 0 {
				b.WriteString(", round trip clean")
			} else {
				fmt.Fprintf(&b, ", %d slice(s) off by up to %.4f",
					c.RoundTrip.Mismatched, c.RoundTrip.MaxMeanAbsDiff)
			}
		}
		b.WriteByte('\n')
	}

	if r.ArtifactPath != "" {
		fmt.Fprintf(&b, "Artifact: %s (%s)\n", r.ArtifactPath, r.ArtifactSize)
	}
	return strings.TrimRight(b.String(), "\n")
}

// WriteYAML dumps the report for downstream tooling.
func (r *Report) WriteYAML(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// Run builds every case under root and returns the aggregate scene with a
// per-case report. Run itself fails only when there is nothing to process
// or the scene artifact cannot be written.
func Run(root string, cfg *config.Config, store scene.Saver) (*models.Scene, *Report, error) {
	caseDirs, err := discoverCases(root, cfg.Build.ImageFolder)
	if err != nil {
		return nil, nil, err
	}
	if len(caseDirs) == 0 {
		return nil, nil, fmt.Errorf("no case folders with a %q subfolder under %s",
			cfg.Build.ImageFolder, root)
	}

	workers := cfg.Build.Workers
	if workers < 1 {
		workers = 1
	}

	logging.Infof("Building %d case(s) under %s", len(caseDirs), root)

	// Process cases in parallel, bounded by the worker count
	type caseOutcome struct {
		idx      int
		artifact *models.CaseArtifact
		result   CaseResult
	}
	resultChan := make(chan caseOutcome, len(caseDirs))
	sem := make(chan struct{}, workers)

	for i, dir := range caseDirs {
		go func(idx int, dir string) {
			sem <- struct{}{}
			defer func() { <-sem }()

			artifact, result := processCase(dir, cfg)
			resultChan <- caseOutcome{idx: idx, artifact: artifact, result: result}
		}(i, dir)
	}

	// Collect in case-folder order regardless of completion order
	artifacts := make([]*models.CaseArtifact, len(caseDirs))
	results := make([]CaseResult, len(caseDirs))
	for completed := 0; completed < len(caseDirs); completed++ {
		out := <-resultChan
		artifacts[out.idx] = out.artifact
		results[out.idx] = out.result
	}

	sc := &models.Scene{Root: root, Built: time.Now()}
	report := &Report{Root: root, Built: sc.Built, Cases: results}
	for i := range results {
		r := &results[i]
		if r.Failed() {
			report.CasesFailed++
			logging.Errorf("Case %s failed (%s): %s", r.CaseID, r.Kind, r.Error)
			continue
		}
		report.CasesOK++
		report.SlicesTotal += r.Slices
		sc.Cases = append(sc.Cases, artifacts[i])
	}

	if cfg.Build.SaveAfterBuild {
		if len(sc.Cases) == 0 {
			logging.Warningf("No case built successfully; skipping scene save")
		} else {
			path := cfg.Build.ArtifactPath
			if path == "" {
				if path, err = scene.DefaultArtifactPath(root); err != nil {
					return sc, report, err
				}
			}
			if err := store.Save(sc, path); err != nil {
				return sc, report, fmt.Errorf("saving scene: %w", err)
			}
			report.ArtifactPath = path
			if fi, err := os.Stat(path); err == nil {
				report.ArtifactSize = humanize.Bytes(uint64(fi.Size()))
			}
		}
	}

	if cfg.Build.ReportPath != "" {
		if err := report.WriteYAML(cfg.Build.ReportPath); err != nil {
			logging.Errorf("Failed to write batch report: %v", err)
		} else {
			logging.Infof("Wrote batch report to %s", cfg.Build.ReportPath)
		}
	}

	return sc, report, nil
}

// processCase runs catalog, planner and builder for a single case folder
// and contains any failure in the returned result.
func processCase(dir string, cfg *config.Config) (*models.CaseArtifact, CaseResult) {
	result := CaseResult{CaseID: filepath.Base(dir)}

	fail := func(err error) (*models.CaseArtifact, CaseResult) {
		result.Kind = models.Kind(err)
		result.Error = err.Error()
		return nil, result
	}

	c, err := catalog.ScanCase(dir, cfg.Build.ImageFolder, cfg.Build.Extension)
	if err != nil {
		return fail(err)
	}

	plan, err := planner.BuildPlan(c, cfg.Build.Workers)
	if err != nil {
		return fail(err)
	}

	artifact, err := stack.Build(c, plan, stack.Options{
		TileCap: cfg.Build.TileCap,
		Workers: cfg.Build.Workers,
	})
	if err != nil {
		return fail(err)
	}

	scene.DecorateLayers(artifact, cfg.Build.ShowSegmentsByDefault)

	result.Slices = len(artifact.Volume.Slices)
	result.Layers = len(artifact.Layers)

	if cfg.Build.Verify {
		rt, err := metrics.VerifyRoundTrip(c, artifact)
		if err != nil {
			return fail(err)
		}
		result.RoundTrip = rt
		result.Coverage = metrics.LayerCoverage(artifact)
		if rt.Mismatched > 0 {
			logging.Warningf("Case %s: %d slice(s) differ from their source tiles (max mean diff %.4f)",
				c.ID, rt.Mismatched, rt.MaxMeanAbsDiff)
		}
	}

	logging.Infof("Case %s: %d slice(s), %d layer(s)", c.ID, result.Slices, result.Layers)
	logging.Debugf("Case %s tile mapping:\n%s", c.ID, artifact.Volume.TileMapping())
	return artifact, result
}

// discoverCases lists immediate subdirectories of root that contain the
// image folder. Everything else under root is ignored.
func discoverCases(root, imageFolder string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrRootNotFound, root)
		}
		return nil, fmt.Errorf("reading root folder: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if fi, err := os.Stat(filepath.Join(dir, imageFolder)); err == nil && fi.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}
