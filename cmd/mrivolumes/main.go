package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"mrivolumes/internal/logging"
	"mrivolumes/internal/models"
	"mrivolumes/pkg/config"
	"mrivolumes/pkg/dicomio"
	"mrivolumes/pkg/manifest"
	"mrivolumes/pkg/metrics"
	"mrivolumes/pkg/nifti"
	"mrivolumes/pkg/reconstruction"
	"mrivolumes/pkg/segmentation"
	"mrivolumes/pkg/series"
	"mrivolumes/pkg/telemetry"
	"mrivolumes/pkg/visualization"
)

const defaultConfigPath = "mrivolumes.yaml"

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"convert", "group DICOM slices by series and write one NIfTI volume per series", runConvert},
	{"resample", "resample every volume in a directory onto an isotropic grid", runResample},
	{"resize", "resize every volume in a directory to a fixed shape", runResize},
	{"segment", "classify brain tissue into CSF, GM and WM with K-means", runSegment},
	{"compare", "compare a segmentation against ground truth", runCompare},
	{"init-config", "write a configuration file with default values", runInitConfig},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			os.Exit(1)
		}
		return
	}
	if name == "-h" || name == "--help" || name == "help" {
		usage()
		return
	}
	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: mrivolumes <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Run 'mrivolumes <command> -h' for the flags of a command.")
}

// commonFlags are accepted by every command that reads the configuration.
type commonFlags struct {
	configPath *string
	logLevel   *string
	logFile    *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath: fs.String("config", defaultConfigPath, "Path to the YAML configuration file"),
		logLevel:   fs.String("log-level", "", "Override the configured log level"),
		logFile:    fs.String("log-file", "", "Also write logs to this file"),
	}
}

// setup loads the configuration, applies the command line overrides,
// validates the result and builds the logger.
func (c *commonFlags) setup(override func(*config.Config)) (*config.Config, *log.Logger, io.Closer, error) {
	cfg, err := config.LoadConfig(*c.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if override != nil {
		override(cfg)
	}
	if *c.logLevel != "" {
		cfg.Logging.Level = *c.logLevel
	}
	if *c.logFile != "" {
		cfg.Logging.File = *c.logFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}

func banner(title string) {
	fmt.Println("================================")
	fmt.Println(title)
	fmt.Println("================================")
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	common := addCommonFlags(fs)
	inputRoot := fs.String("input", "", "Directory tree containing DICOM slices (overrides input.root)")
	outputDir := fs.String("output", "", "Directory for the NIfTI volumes (overrides output.dir)")
	order := fs.String("order", "", "Slice order within a series: path, natural or instance")
	transform := fs.String("transform", "", "Affine of the volumes: identity, spacing or canonical")
	manifestPath := fs.String("manifest", "", "SQLite file recording the run (overrides manifest.path)")
	textfile := fs.String("metrics-textfile", "", "Prometheus textfile written after the run (overrides metrics.textfile)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, closer, err := common.setup(func(cfg *config.Config) {
		applyString(&cfg.Input.Root, *inputRoot)
		applyString(&cfg.Output.Dir, *outputDir)
		applyString(&cfg.Assembly.Order, *order)
		applyString(&cfg.Assembly.Transform, *transform)
		applyString(&cfg.Manifest.Path, *manifestPath)
		applyString(&cfg.Metrics.Textfile, *textfile)
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	banner("DICOM SERIES TO NIFTI VOLUMES")

	reader := dicomio.NewReader()
	grouping, err := series.NewGrouper(reader, cfg.Input.Extensions, logger).Group(cfg.Input.Root)
	if err != nil {
		return err
	}
	fmt.Printf("Scanned %s: %d candidate files, %d series, %d unreadable\n",
		cfg.Input.Root, grouping.Candidates, len(grouping.Groups), len(grouping.Skipped))

	rec := reconstruction.NewReconstructor(reconstruction.ParamsFromConfig(cfg), reader, logger)

	var run *manifest.Run
	if cfg.Manifest.Path != "" {
		store, err := manifest.Open(cfg.Manifest.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		run, err = store.StartRun("convert", cfg.Input.Root, cfg.Output.Dir)
		if err != nil {
			return err
		}
		rec.AddRecorder(run)
	}

	var collector *telemetry.Collector
	if cfg.Metrics.Textfile != "" {
		collector = telemetry.NewCollector()
		rec.AddRecorder(collector)
	}

	summary := rec.Process(grouping)

	if run != nil {
		if err := run.Finish(summary); err != nil {
			logger.WithError(err).Warn("Failed to finish manifest run")
		}
	}
	if collector != nil {
		collector.ObserveConversion(summary)
		if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.WithError(err).Warn("Failed to write metrics textfile")
		}
	}

	fmt.Printf("\nConversion finished in %.2f seconds\n", summary.Duration.Seconds())
	fmt.Printf("Volumes written: %d\n", summary.Succeeded())
	fmt.Printf("Series failed:   %d\n", summary.Failed())
	fmt.Printf("Slices dropped:  %d\n", summary.DroppedFiles())
	fmt.Printf("Files skipped:   %d\n", len(summary.Skipped))
	fmt.Printf("Bytes written:   %s\n", humanize.Bytes(uint64(summary.BytesWritten)))
	for _, res := range summary.Results {
		if res.OK() {
			fmt.Printf("  [%d] %s -> %s (%dx%dx%d)\n", res.Sequence, res.SeriesID, res.OutputPath,
				res.Shape[0], res.Shape[1], res.Shape[2])
		} else {
			fmt.Printf("  [%d] %s FAILED (%s): %v\n", res.Sequence, res.SeriesID, res.Status(), res.Err)
		}
	}
	if run != nil {
		fmt.Printf("Run %d recorded in %s\n", run.ID, cfg.Manifest.Path)
	}
	return nil
}

func runResample(args []string) error {
	return runBatch("resample", args, func(cfg *config.Config) reconstruction.VolumeTransform {
		return reconstruction.IsotropicTransform(cfg.Resample.TargetShape, cfg.Resample.TargetSpacing)
	})
}

func runResize(args []string) error {
	return runBatch("resize", args, func(cfg *config.Config) reconstruction.VolumeTransform {
		return reconstruction.ResizeTransform(cfg.Resample.TargetShape)
	})
}

// runBatch applies a volume transform to every NIfTI file of a directory.
func runBatch(name string, args []string, build func(*config.Config) reconstruction.VolumeTransform) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	common := addCommonFlags(fs)
	inputDir := fs.String("input", "", "Directory of NIfTI volumes (overrides resample.inputDir)")
	outputDir := fs.String("output", "", "Directory for the transformed volumes (overrides resample.outputDir)")
	textfile := fs.String("metrics-textfile", "", "Prometheus textfile written after the run (overrides metrics.textfile)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, closer, err := common.setup(func(cfg *config.Config) {
		applyString(&cfg.Resample.InputDir, *inputDir)
		applyString(&cfg.Resample.OutputDir, *outputDir)
		applyString(&cfg.Metrics.Textfile, *textfile)
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	banner(fmt.Sprintf("NIFTI BATCH %s (%dx%dx%d)", name,
		cfg.Resample.TargetShape[0], cfg.Resample.TargetShape[1], cfg.Resample.TargetShape[2]))

	start := time.Now()
	summary, err := reconstruction.ProcessVolumes(cfg.Resample.InputDir, cfg.Resample.OutputDir, build(cfg), logger)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if cfg.Metrics.Textfile != "" {
		collector := telemetry.NewCollector()
		collector.ObserveBatch(name, summary, elapsed.Seconds())
		if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.WithError(err).Warn("Failed to write metrics textfile")
		}
	}

	written, skipped, failed := summary.Count()
	var bytes int64
	for _, r := range summary.Results {
		bytes += r.Bytes
	}
	fmt.Printf("\nProcessed %d volumes in %.2f seconds\n", len(summary.Results), elapsed.Seconds())
	fmt.Printf("Written: %d (%s)\n", written, humanize.Bytes(uint64(bytes)))
	fmt.Printf("Skipped: %d\n", skipped)
	fmt.Printf("Failed:  %d\n", failed)
	return nil
}

func runSegment(args []string) error {
	fs := flag.NewFlagSet("segment", flag.ExitOnError)
	common := addCommonFlags(fs)
	input := fs.String("input", "", "T1 NIfTI volume to segment")
	output := fs.String("output", "", "Output label volume")
	maskPath := fs.String("mask", "", "Optional brain mask volume")
	clusters := fs.Int("clusters", 0, "Number of tissue classes (overrides segmentation.clusters)")
	plot := fs.Bool("plot", false, "Save the mid slice next to the GM label under plot.outputDir")
	axis := fs.Int("axis", 0, "Axis of the plotted mid slice")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" || *output == "" {
		fs.Usage()
		return fmt.Errorf("-input and -output are required")
	}

	cfg, logger, closer, err := common.setup(func(cfg *config.Config) {
		if *clusters > 0 {
			cfg.Segmentation.Clusters = *clusters
		}
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	vol, err := nifti.ReadFile(*input)
	if err != nil {
		return err
	}
	var mask *models.Volume
	if *maskPath != "" {
		if mask, err = nifti.ReadFile(*maskPath); err != nil {
			return err
		}
	}

	params := segmentation.Params{
		Clusters:      cfg.Segmentation.Clusters,
		Percentile:    cfg.Segmentation.Percentile,
		MaxIterations: cfg.Segmentation.MaxIterations,
	}

	banner("K-MEANS TISSUE SEGMENTATION")
	logger.WithFields(log.Fields{
		"input":    *input,
		"clusters": params.Clusters,
		"mask":     *maskPath,
	}).Info("Segmenting volume")

	res, err := segmentation.SegmentTissue(vol, mask, params)
	if err != nil {
		return err
	}
	if err := nifti.WriteFile(*output, res.Labels); err != nil {
		return err
	}

	fmt.Printf("\nMask voxels: %s", humanize.Comma(int64(res.MaskVoxels)))
	if *maskPath == "" {
		fmt.Printf(" (threshold %.3f)", res.Threshold)
	}
	fmt.Printf("\nK-means converged after %d iterations\n", res.Iterations)
	for label, mean := range res.Means {
		fmt.Printf("  %-4s mean %10.3f  voxels %s\n", segmentation.LabelName(label), mean,
			humanize.Comma(int64(res.Counts[label])))
	}
	fmt.Printf("Labels saved to: %s\n", *output)

	if !*plot {
		return nil
	}
	panels, err := visualization.SegmentationPanels(vol, res.Labels, *axis, segmentation.GM, segmentation.LabelName(segmentation.GM))
	if err != nil {
		return err
	}
	path, err := visualization.SaveComparison(cfg.Plot.OutputDir, "segmentation_result", panels, cfg.Plot.CellSize)
	if err != nil {
		return err
	}
	logger.WithField("path", path).Info("Saved segmentation plot")
	fmt.Printf("Segmentation plot saved to: %s\n", path)
	return nil
}

func runCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	common := addCommonFlags(fs)
	predPath := fs.String("pred", "", "Predicted label volume")
	truthPath := fs.String("truth", "", "Ground truth label volume")
	label := fs.Int("label", segmentation.GM, "Label to compare, -1 for any foreground")
	mriPath := fs.String("mri", "", "Intensity volume used as the background of the comparison plot")
	axis := fs.Int("axis", 0, "Axis of the plotted mid slice")
	intensity := fs.Bool("intensity", false, "Compare -pred and -truth as intensity volumes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *predPath == "" || *truthPath == "" {
		fs.Usage()
		return fmt.Errorf("-pred and -truth are required")
	}

	cfg, logger, closer, err := common.setup(nil)
	if err != nil {
		return err
	}
	defer closer.Close()

	pred, err := nifti.ReadFile(*predPath)
	if err != nil {
		return err
	}
	truth, err := nifti.ReadFile(*truthPath)
	if err != nil {
		return err
	}

	if *intensity {
		banner("INTENSITY SIMILARITY")
		m, err := metrics.CompareIntensity(pred, truth)
		if err != nil {
			return err
		}
		fmt.Printf("Mutual Information (MI): %.3f\n", m.MI)
		fmt.Printf("Entropy Difference: %.3f\n", m.EntropyDiff)
		fmt.Printf("Root Mean Square Error (RMSE): %.6f\n", m.RMSE)
		fmt.Printf("Structural Similarity Index (SSIM): %.3f\n", m.SSIM)
		return nil
	}

	banner(fmt.Sprintf("SEGMENTATION COMPARISON (%s)", labelTitle(*label)))
	report, err := metrics.Compare(pred, truth, *label)
	if err != nil {
		return err
	}
	writeReport(os.Stdout, report)

	if *mriPath == "" {
		return nil
	}
	mri, err := nifti.ReadFile(*mriPath)
	if err != nil {
		return err
	}
	panels, err := visualization.ComparisonPanels(mri, pred, truth, *axis, *label, labelTitle(*label))
	if err != nil {
		return err
	}
	path, err := visualization.SaveComparison(cfg.Plot.OutputDir, "comparison", panels, cfg.Plot.CellSize)
	if err != nil {
		return err
	}
	logger.WithField("path", path).Info("Saved comparison plot")
	fmt.Printf("Comparison plot saved to: %s\n", path)
	return nil
}

// writeReport prints the overlap and surface distance scores of a comparison.
func writeReport(w io.Writer, report *metrics.Report) {
	o := report.Overlap
	fmt.Fprintf(w, "Dice:      %.4f\n", o.Dice)
	fmt.Fprintf(w, "Jaccard:   %.4f\n", o.Jaccard)
	fmt.Fprintf(w, "Precision: %.4f\n", o.Precision())
	fmt.Fprintf(w, "Recall:    %.4f\n", o.Recall())
	fmt.Fprintf(w, "TP %d  FP %d  FN %d  TN %d\n", o.TruePositive, o.FalsePositive, o.FalseNegative, o.TrueNegative)
	fmt.Fprintf(w, "Volume predicted %.1f mm3, truth %.1f mm3, difference %+.2f%%\n",
		o.PredictedVolume, o.TruthVolume, o.VolumeDifference*100)
	if s := report.Surface; s != nil {
		fmt.Fprintf(w, "Hausdorff:    %.3f mm\n", s.Hausdorff)
		fmt.Fprintf(w, "Hausdorff 95: %.3f mm\n", s.Hausdorff95)
		fmt.Fprintf(w, "Mean surface: %.3f mm\n", s.MeanSurface)
	} else {
		fmt.Fprintln(w, "Surface distances: n/a (empty mask)")
	}
}

func labelTitle(label int) string {
	if label == metrics.AnyLabel {
		return "foreground"
	}
	return segmentation.LabelName(label)
}

func runInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	path := fs.String("config", defaultConfigPath, "Path of the configuration file to create")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists, use -force to overwrite", *path)
	}
	if err := config.CreateDefaultConfigFile(*path); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to %s\n", *path)
	return nil
}

func applyString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
