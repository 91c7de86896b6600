package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"portaria/internal/api"
	"portaria/internal/audit"
	"portaria/internal/config"
	"portaria/internal/engine"
	"portaria/internal/generator"
	"portaria/internal/logging"
)

var version = "dev"

const usage = `usage: portaria <command> [flags]

commands:
  analyze   run the analysis pipeline once over a log file
  watch     run the pipeline and re-run it whenever the log file changes
  generate  write a synthetic log in the source schema
  audit     append a timestamped line to the activity log
`

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "\nreceived %v, shutting down...\n", sig)
		cancel()
	}()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}
	switch args[0] {
	case "analyze":
		return cmdAnalyze(ctx, args[1:], stdout, stderr)
	case "watch":
		return cmdWatch(ctx, args[1:], stdout, stderr)
	case "generate":
		return cmdGenerate(args[1:], stdout, stderr)
	case "audit":
		return cmdAudit(args[1:], stderr)
	case "version":
		fmt.Fprintln(stdout, version)
		return nil
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// pipelineFlags are shared by analyze and watch.
type pipelineFlags struct {
	configPath    string
	source        string
	dsn           string
	contamination float64
	seed          int64
	charts        string
}

func (p *pipelineFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.configPath, "config", "", "config file (yaml or json)")
	fs.StringVar(&p.source, "source", "", "log file to analyze")
	fs.StringVar(&p.dsn, "dsn", "", "destination database DSN")
	fs.Float64Var(&p.contamination, "contamination", 0, "expected share of anomalous rows, in (0, 0.5]")
	fs.Int64Var(&p.seed, "seed", -1, "anomaly model seed; negative draws a fresh one")
	fs.StringVar(&p.charts, "charts", "", "write charts to this directory")
}

// apply writes the flag overrides onto cfg and resolves its file paths, so
// every consumer sees the same absolute source.
func (p *pipelineFlags) apply(cfg *config.Config) {
	if p.source != "" {
		cfg.Ingest.Source = p.source
	}
	if p.dsn != "" {
		cfg.Storage.Enabled = true
		cfg.Storage.DSN = p.dsn
	}
	if p.contamination != 0 {
		cfg.Anomaly.Contamination = p.contamination
	}
	if p.seed >= 0 {
		seed := p.seed
		cfg.Anomaly.Seed = &seed
	}
	if p.charts != "" {
		cfg.Report.Enabled = true
		cfg.Report.Dir = p.charts
	}
	cfg.Ingest.Source = config.ResolvePath(cfg.Ingest.Source)
	cfg.Audit.Path = config.ResolvePath(cfg.Audit.Path)
}

// load reads the config and applies flag overrides.
func (p *pipelineFlags) load() (*config.Config, error) {
	return p.loadWith(p.apply)
}

func (p *pipelineFlags) loadWith(override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(p.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	override(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func cmdAnalyze(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var pf pipelineFlags
	pf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := pf.load()
	if err != nil {
		return err
	}
	logger := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	eng, closeFn, err := engine.Build(ctx, cfg, logger, stdout)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := eng.Run(ctx, cfg.Ingest.Source)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d linhas analisadas, %d descartadas, %d anomalias, %d críticas\n",
		res.Stats.Kept, res.Stats.Dropped, res.Stats.Outliers, len(res.Notices))
	for _, path := range res.ChartFiles {
		fmt.Fprintf(stdout, "gráfico salvo: %s\n", path)
	}
	return nil
}

func cmdWatch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var pf pipelineFlags
	pf.register(fs)
	apiAddr := fs.String("api", "", "serve run status on this address")
	debounce := fs.Duration("debounce", 0, "quiet period before re-running")
	if err := fs.Parse(args); err != nil {
		return err
	}
	override := func(c *config.Config) {
		pf.apply(c)
		if *apiAddr != "" {
			c.API.Enabled = true
			c.API.Addr = *apiAddr
		}
		if *debounce > 0 {
			c.Ingest.Debounce = *debounce
		}
	}
	cfg, err := pf.loadWith(override)
	if err != nil {
		return err
	}
	logger := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	eng, closeFn, err := engine.Build(ctx, cfg, logger, stdout)
	if err != nil {
		return err
	}
	defer closeFn()

	api.Start(ctx, cfg.API, eng, cfg.Ingest.Source, logger, version)
	return eng.Watch(ctx, engine.WatchOptions{
		Source:     cfg.Ingest.Source,
		ConfigPath: pf.configPath,
		Debounce:   cfg.Ingest.Debounce,
		Override:   override,
	})
}

func cmdGenerate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	n := fs.Int("n", 50, "number of rows")
	out := fs.String("out", "", "output file (stdout when empty)")
	seed := fs.Int64("seed", -1, "random seed; negative draws a fresh one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s := uint64(time.Now().UnixNano())
	if *seed >= 0 {
		s = uint64(*seed)
	}
	rng := rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))

	if *out == "" {
		return generator.Generate(stdout, *n, rng)
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := generator.Generate(f, *n, rng); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "arquivo de log '%s' gerado com sucesso\n", *out)
	return nil
}

func cmdAudit(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (yaml or json)")
	file := fs.String("file", "", "activity log path")
	event := fs.String("event", "", "record an event entry; remaining arguments become its fields")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *file
	if path == "" {
		cfg, err := config.LoadOrDefault(*configPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		path = cfg.Audit.Path
	}
	line := strings.Join(fs.Args(), " ")
	if *event != "" {
		line = audit.Entry(*event, fs.Args()...)
	}
	return audit.New(config.ResolvePath(path)).Log(line)
}
