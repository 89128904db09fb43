package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/fitgate/internal/common"
	"example.com/fitgate/internal/config"
	"example.com/fitgate/internal/fit"
	"example.com/fitgate/internal/profile"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// app carries the state shared by every subcommand.
type app struct {
	policyPath string
	vendorPath string
	lenient    bool
	verbose    bool
	showMetric bool
	storePath  string

	policy  fit.Policy
	catalog *profile.Catalog
	metrics *common.Metrics
	log     *logrus.Logger

	stdout io.Writer
	stderr io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, log: common.Logger()}
	root := &cobra.Command{
		Use:          "fitctl",
		Short:        "Inspect, repair and store FIT activity files.",
		Version:      versionString(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	flags := root.PersistentFlags()
	flags.StringVar(&a.policyPath, "policy", "", "policy YAML file")
	flags.StringVar(&a.vendorPath, "vendor", "", "vendor message profile YAML file")
	flags.BoolVar(&a.lenient, "lenient", false, "tolerate checksum mismatches and truncation")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log decoder warnings")
	flags.BoolVar(&a.showMetric, "metrics", false, "print throughput metrics when done")
	flags.StringVar(&a.storePath, "store", filepath.Join("data", "fitgate.db"), "activity store file")

	root.AddCommand(
		a.decodeCmd(),
		a.verifyCmd(),
		a.removeGapsCmd(),
		a.splitLapCmd(),
		a.reportCmd(),
		a.importCmd(),
		a.listCmd(),
		a.exportCmd(),
		a.deleteCmd(),
		a.historyCmd(),
	)
	// cobra skips post-run hooks after a failing RunE
	for _, sub := range root.Commands() {
		if run := sub.RunE; run != nil {
			sub.RunE = func(cmd *cobra.Command, args []string) error {
				defer a.finish()
				return run(cmd, args)
			}
		}
	}
	return root
}

func versionString() string {
	if version != "dev" {
		return fmt.Sprintf("%s (built %s)", version, buildDate)
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return version
}

func (a *app) setup() error {
	a.log.SetOutput(a.stderr)
	if a.verbose {
		a.log.SetLevel(logrus.DebugLevel)
	} else {
		a.log.SetLevel(logrus.WarnLevel)
	}
	p, err := config.LoadPolicy(a.policyPath)
	if err != nil {
		return err
	}
	if a.lenient {
		p.Lenient = true
	}
	a.policy = p
	cat, err := profile.LoadVendor(profile.Standard(), a.vendorPath)
	if err != nil {
		return fmt.Errorf("load vendor profile: %w", err)
	}
	a.catalog = cat
	if a.showMetric {
		a.metrics = common.NewMetrics()
		a.metrics.Start()
	}
	return nil
}

// finish prints the metrics summary once, whether or not the command failed.
func (a *app) finish() {
	if a.metrics == nil {
		return
	}
	a.metrics.Stop()
	fmt.Fprintln(a.stderr, a.metrics.Snapshot().String())
	a.metrics = nil
}

func (a *app) decoder() *fit.Decoder {
	return fit.NewDecoder(a.catalog, a.policy, fit.WithLogger(a.log.WithField("component", "decode")))
}

// decodeFile reads and decodes path. A non-nil result may come with an error
// when the policy reports a checksum or truncation problem.
func (a *app) decodeFile(path string) ([]byte, *fit.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	res, err := a.decoder().DecodeBytes(data)
	if a.metrics != nil {
		if res == nil {
			a.metrics.AddFailure()
		} else {
			a.metrics.AddDecode(int64(len(data)), countMessages(res), res.Discarded)
		}
	}
	if err != nil {
		return data, res, fmt.Errorf("%s: %w", path, err)
	}
	return data, res, nil
}

func countMessages(res *fit.Result) int {
	n := 0
	for _, f := range res.Files() {
		n += len(f.Messages())
	}
	return n
}

func (a *app) printIssues(res *fit.Result) {
	if res == nil {
		return
	}
	for _, w := range res.Warnings() {
		fmt.Fprintf(a.stderr, "warning: %s\n", w)
	}
}

// openOutput returns stdout for "" or "-".
func (a *app) openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{a.stdout}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (a *app) writeJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
