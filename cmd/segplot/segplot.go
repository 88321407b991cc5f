package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/businessperformancetuning/segutil/analysis"
	"github.com/businessperformancetuning/segutil/dataset"
	"github.com/businessperformancetuning/segutil/util"
	"github.com/decred/slog"
	"github.com/jrick/flagfile"
)

var (
	defaultHomeDir    = filepath.Join(os.Getenv("HOME"), ".segplot")
	defaultConfigFile = filepath.Join(defaultHomeDir, "segplot.conf")

	backendLog = slog.NewBackend(os.Stdout)
	log        = backendLog.Logger("PLOT")
	dataLog    = backendLog.Logger("DATA")
)

func init() {
	analysis.UseLogger(log)
	dataset.UseLogger(dataLog)
}

func versionString() string {
	return "1.0.0"
}

// seriesSpec names one dataset to plot.
type seriesSpec struct {
	label    string
	filename string
}

// seriesFlag collects repeated -series label=path flags.
type seriesFlag []seriesSpec

func (s *seriesFlag) String() string {
	a := make([]string, 0, len(*s))
	for _, v := range *s {
		a = append(a, v.label+"="+v.filename)
	}
	return strings.Join(a, ",")
}

func (s *seriesFlag) Set(value string) error {
	label, filename, ok := strings.Cut(value, "=")
	if !ok || label == "" || filename == "" {
		return fmt.Errorf("expected label=path: %q", value)
	}
	*s = append(*s, seriesSpec{label: label, filename: filename})
	return nil
}

type config struct {
	Config      flag.Value
	ShowVersion bool
	Verbose     bool
	Series      seriesFlag
	Bins        int
	Out         string
	Title       string
	DPI         int
	Width       float64
	Height      float64
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage of segplot:
  segplot [flags] [dataset.csv ...]
Flags:
  -C value
        config file
  -v    verbose
  -V	Show version and exit
  -series label=path
        dataset to plot, may be repeated
  -bins int
        number of histogram bins (default %v)
  -out string
        output image (default util_dist.png)
  -title string
        chart title (default %q)
  -dpi int
        image resolution (default %v)
  -width float
        image width in inches (default %v)
  -height float
        image height in inches (default %v)
Datasets given as arguments are labeled with their file name.
`, analysis.DefaultBins, analysis.DefaultTitle, analysis.DefaultDPI,
		analysis.DefaultWidth, analysis.DefaultHeight)
	os.Exit(2)
}

func (c *config) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("segplot", flag.ExitOnError)
	configParser := flagfile.Parser{AllowUnknown: false}
	c.Config = configParser.ConfigFlag(fs)
	fs.Var(c.Config, "C", "config file")
	fs.BoolVar(&c.ShowVersion, "V", false, "")
	fs.BoolVar(&c.Verbose, "v", false, "")
	fs.Var(&c.Series, "series", "")
	fs.IntVar(&c.Bins, "bins", analysis.DefaultBins, "")
	fs.StringVar(&c.Out, "out", "util_dist.png", "")
	fs.StringVar(&c.Title, "title", analysis.DefaultTitle, "")
	fs.IntVar(&c.DPI, "dpi", analysis.DefaultDPI, "")
	fs.Float64Var(&c.Width, "width", analysis.DefaultWidth, "")
	fs.Float64Var(&c.Height, "height", analysis.DefaultHeight, "")
	fs.Usage = usage
	return fs
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// When -C is the first parameter, flags are configured from the specified
// config file rather than the application default path.  Otherwise the
// default config will be parsed if the file exists.  Command line options
// always take precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := &config{}
	fs := cfg.FlagSet()
	args := os.Args[1:]

	if len(args) >= 2 && args[0] == "-C" {
		err := cfg.Config.Set(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid value %q for flag "+
				"-C: %s\n", args[1], err)
			os.Exit(1)
		}
		args = args[2:]
	} else if util.FileExists(defaultConfigFile) {
		err := cfg.Config.Set(defaultConfigFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	fs.Parse(args)

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if cfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			versionString(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	return cfg, fs.Args(), nil
}

// specsFromArgs labels every dataset argument with its file name.
func specsFromArgs(args []string) []seriesSpec {
	specs := make([]seriesSpec, 0, len(args))
	for _, filename := range args {
		label := filepath.Base(filename)
		label = strings.TrimSuffix(label, filepath.Ext(label))
		specs = append(specs, seriesSpec{label: label, filename: filename})
	}
	return specs
}

// loadSeries loads every dataset and computes its density curve.  Datasets
// without positive utilization are skipped with a warning, any other problem
// fails the whole load.  At least one series must remain.
func loadSeries(specs []seriesSpec, bins int) ([]analysis.Series, error) {
	if len(specs) == 0 {
		return nil, errors.New("no datasets")
	}

	series := make([]analysis.Series, 0, len(specs))
	for _, spec := range specs {
		table, err := dataset.Load(spec.filename)
		if err != nil {
			return nil, err
		}
		positive, err := analysis.FilterPositive(table)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", spec.filename, err)
		}
		values, err := positive.Float64s(dataset.ColumnUtilization)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", spec.filename, err)
		}
		if len(values) == 0 {
			log.Warnf("%v: no positive utilization in %v rows of %v, "+
				"skipping", spec.label, table.Len(), spec.filename)
			continue
		}
		s, err := analysis.NewSeries(spec.label, values, bins)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", spec.filename, err)
		}

		summary, err := analysis.Summarize(values)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", spec.filename, err)
		}
		log.Infof("%v: %v of %v rows, utilization mean %.4f median "+
			"%.4f stddev %.4f range [%.4f, %.4f]", spec.label,
			summary.Count, table.Len(), summary.Mean, summary.Median,
			summary.StdDev, summary.Min, summary.Max)

		series = append(series, *s)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: no dataset has positive utilization",
			analysis.ErrNoValues)
	}
	return series, nil
}

func _main() error {
	cfg, args, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Verbose {
		log.SetLevel(slog.LevelDebug)
		dataLog.SetLevel(slog.LevelDebug)
	}

	specs := append([]seriesSpec(nil), cfg.Series...)
	specs = append(specs, specsFromArgs(args)...)
	series, err := loadSeries(specs, cfg.Bins)
	if err != nil {
		return err
	}

	return analysis.Render(cfg.Out, analysis.RenderOptions{
		Title:  cfg.Title,
		Width:  cfg.Width,
		Height: cfg.Height,
		DPI:    cfg.DPI,
	}, series)
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
