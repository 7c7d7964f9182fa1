// qtb drives controlled transport experiments: it registers hosts and
// links, creates experiment suites, runs them over an emulated link and
// reports their recorded status.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/radovskyb/watcher"
	"go.uber.org/zap"

	"github.com/qtb-dev/qtb/internal/config"
	"github.com/qtb-dev/qtb/internal/emulation"
	"github.com/qtb-dev/qtb/internal/history"
	"github.com/qtb-dev/qtb/internal/proc"
	"github.com/qtb-dev/qtb/internal/runner"
	"github.com/qtb-dev/qtb/internal/status"
	"github.com/qtb-dev/qtb/internal/tools"
)

type globalOptions struct {
	Dir string `short:"d" long:"dir" description:"Workspace root holding configs/ and runs/" default:"."`
}

var (
	opts  globalOptions
	paths config.Paths
	log   *zap.SugaredLogger
)

func main() {
	logger, err := buildLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to set up logging:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log = logger.Sugar()

	parser := flags.NewParser(&opts, flags.Default)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		paths = config.ResolvePaths(opts.Dir)
		return cmd.Execute(args)
	}

	mustAddCommand(parser, "add-host", "Add or update a host in hosts.yml", &addHostCommand{})
	mustAddCommand(parser, "add-link", "Add or update a link in hosts.yml", &addLinkCommand{})
	mustAddCommand(parser, "create-exps", "Create an experiment suite YAML template", &createExpsCommand{})
	mustAddCommand(parser, "run", "Run experiments from a suite YAML file", &runCommand{})
	mustAddCommand(parser, "show", "Show status of experiments in a suite", &showCommand{})
	mustAddCommand(parser, "watch", "Show suite status, refreshed on every change", &watchCommand{})
	mustAddCommand(parser, "history", "List recorded suite runs", &historyCommand{})
	mustAddCommand(parser, "analyze", "Prepare analysis artifacts for a suite", &analyzeCommand{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return
			}
			// go-flags already printed the usage error.
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "qtb:", err)
		os.Exit(1)
	}
}

func buildLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func mustAddCommand(parser *flags.Parser, name, description string, cmd flags.Commander) {
	if _, err := parser.AddCommand(name, description, description, cmd); err != nil {
		panic(err)
	}
}

// ---- add-host ----

type addHostCommand struct {
	SSH  string `long:"ssh" description:"SSH target (user@host), optional"`
	Type string `long:"type" description:"Host type" choice:"local" choice:"docker" choice:"ssh" default:"local"`
	Args struct {
		Name string `positional-arg-name:"name" description:"Logical host name (e.g. h1)"`
		IP   string `positional-arg-name:"ip" description:"Host IP address"`
	} `positional-args:"yes" required:"yes"`
}

func (c *addHostCommand) Execute([]string) error {
	hf, err := config.LoadHosts(paths.HostsFile)
	if err != nil {
		return err
	}
	hf.Hosts[c.Args.Name] = config.Host{Type: c.Type, IP: c.Args.IP, SSH: c.SSH}
	if err := config.SaveHosts(paths.HostsFile, hf); err != nil {
		return err
	}
	log.Infow("added/updated host", "name", c.Args.Name, "file", paths.HostsFile)
	return nil
}

// ---- add-link ----

type addLinkCommand struct {
	Iface       string `long:"iface" description:"Interface name, e.g. lo, eth0" default:"lo"`
	Type        string `long:"type" description:"Link type" choice:"local_iface" choice:"docker_network" default:"local_iface"`
	Description string `long:"description" description:"Human-readable description of the link"`
	Args        struct {
		Name string `positional-arg-name:"name" description:"Link name (e.g. lo)"`
	} `positional-args:"yes" required:"yes"`
}

func (c *addLinkCommand) Execute([]string) error {
	hf, err := config.LoadHosts(paths.HostsFile)
	if err != nil {
		return err
	}
	hf.Links[c.Args.Name] = config.Link{Type: c.Type, Iface: c.Iface, Description: c.Description}
	if err := config.SaveHosts(paths.HostsFile, hf); err != nil {
		return err
	}
	log.Infow("added/updated link", "name", c.Args.Name, "file", paths.HostsFile)
	return nil
}

// ---- create-exps ----

type createExpsCommand struct {
	Force  bool `long:"force" description:"Overwrite existing experiments file"`
	NoEdit bool `long:"no-edit" description:"Do not open the file in $EDITOR after creation"`
	Args   struct {
		Name string `positional-arg-name:"name" description:"Suite name (basename of YAML file)"`
	} `positional-args:"yes" required:"yes"`
}

func (c *createExpsCommand) Execute([]string) error {
	expPath := filepath.Join(paths.ExperimentsDir, c.Args.Name+".yml")
	if _, err := os.Stat(expPath); err == nil && !c.Force {
		fmt.Printf("%s already exists. Use --force to overwrite.\n", expPath)
		return nil
	}
	if err := config.SaveSuiteFile(expPath, starterSuite(c.Args.Name)); err != nil {
		return err
	}
	fmt.Printf("Created experiment suite template at %s\n", expPath)

	if c.NoEdit {
		return nil
	}
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	edit := exec.Command(editor, expPath)
	edit.Stdin = os.Stdin
	edit.Stdout = os.Stdout
	edit.Stderr = os.Stderr
	return edit.Run()
}

// starterSuite is the template a new suite file begins from; it is meant
// to be edited before running.
func starterSuite(name string) *config.SuiteFile {
	return &config.SuiteFile{
		Suite: config.Suite{
			Name:           name,
			Implementation: "aioquic",
			Src:            "h1",
			Dest:           "h2",
			Link:           "lo",
			Duration:       30,
			LoadRPS:        100,
			CompareTCP:     true,
			Metrics:        []string{"cwnd", "goodput"},
		},
		Experiments: config.ExperimentList{
			{Name: "e0", Experiment: config.Experiment{RTTms: 10, LossPct: 0.0, BandwidthMbit: 20, DelayMs: 5}},
			{Name: "e1", Experiment: config.Experiment{RTTms: 50, LossPct: 2.5, BandwidthMbit: 10, DelayMs: 5}},
		},
	}
}

// ---- run ----

type runCommand struct {
	Args struct {
		Experiments string `positional-arg-name:"experiments" description:"Path to experiments YAML file"`
	} `positional-args:"yes" required:"yes"`
}

func (c *runCommand) Execute([]string) error {
	sf, err := config.LoadSuiteFile(c.Args.Experiments)
	if err != nil {
		return err
	}
	hf, err := config.LoadHosts(paths.HostsFile)
	if err != nil {
		return err
	}
	implf, err := config.LoadImplementations(paths.ImplementationsFile)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	log.Infow("running suite", "suite", sf.Suite.Name, "run_id", runID, "file", c.Args.Experiments)

	store := status.NewStore(paths.RunsDir, sf.Suite.Name)
	reg := runner.Registries{
		Hosts:           hf.Hosts,
		Links:           hf.Links,
		Implementations: implf.Implementations,
	}
	emu := emulation.NewEmulator(tools.ExecRunner{}, log)
	sup := proc.NewSupervisor(log)
	r := runner.New(reg, emu, sup, store, paths.RunsDir, log)

	started := time.Now()
	runErr := r.RunSuite(sf.Suite, sf.Experiments)

	if err := appendHistory(runID, sf, store, started); err != nil {
		log.Warnw("recording run history failed", "err", err)
	}
	if runErr != nil {
		log.Errorw("suite run aborted", "suite", sf.Suite.Name, "err", runErr)
		return runErr
	}
	log.Infow("suite finished", "suite", sf.Suite.Name)
	return nil
}

func appendHistory(runID string, sf *config.SuiteFile, store *status.Store, started time.Time) error {
	hist, err := history.Open(filepath.Join(paths.RunsDir, "qtb.db"))
	if err != nil {
		return err
	}
	defer hist.Close()

	records, err := store.Load()
	if err != nil {
		return err
	}
	outcome := make(map[string]string, len(sf.Experiments))
	for _, exp := range sf.Experiments {
		st := status.Pending
		if rec, ok := records[exp.Name]; ok {
			st = rec.Status
		}
		outcome[exp.Name] = string(st)
	}
	return hist.Append(history.SuiteRun{
		ID:          runID,
		Suite:       sf.Suite.Name,
		Started:     started,
		Finished:    time.Now(),
		Experiments: outcome,
	})
}

// ---- show ----

type showCommand struct {
	Args struct {
		Experiments string `positional-arg-name:"experiments" description:"Path to experiments YAML file"`
	} `positional-args:"yes" required:"yes"`
}

func (c *showCommand) Execute([]string) error {
	sf, err := config.LoadSuiteFile(c.Args.Experiments)
	if err != nil {
		return err
	}
	return printStatusTable(sf)
}

func printStatusTable(sf *config.SuiteFile) error {
	store := status.NewStore(paths.RunsDir, sf.Suite.Name)
	records, err := store.Load()
	if err != nil {
		return err
	}

	fmt.Printf("Suite: %s\n", sf.Suite.Name)
	fmt.Printf("Status file: %s\n\n", store.Path())
	fmt.Printf("%-12s %-10s %s\n", "Experiment", "Status", "Log directory")
	fmt.Println(tableRule)
	for _, exp := range sf.Experiments {
		st := status.Pending
		logDir := "-"
		if rec, ok := records[exp.Name]; ok {
			st = rec.Status
			logDir = rec.LogDir
		}
		fmt.Printf("%-12s %-10s %s\n", exp.Name, st, logDir)
	}
	return nil
}

const tableRule = "------------------------------------------------------------"

// ---- watch ----

type watchCommand struct {
	Args struct {
		Experiments string `positional-arg-name:"experiments" description:"Path to experiments YAML file"`
	} `positional-args:"yes" required:"yes"`
}

func (c *watchCommand) Execute([]string) error {
	sf, err := config.LoadSuiteFile(c.Args.Experiments)
	if err != nil {
		return err
	}
	suiteDir := filepath.Join(paths.RunsDir, sf.Suite.Name)
	if err := os.MkdirAll(suiteDir, 0755); err != nil {
		return err
	}
	if err := printStatusTable(sf); err != nil {
		return err
	}

	w := watcher.New()
	w.SetMaxEvents(1)
	w.FilterOps(watcher.Create, watcher.Write)
	if err := w.Add(suiteDir); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		w.Close()
	}()

	go func() {
		for {
			select {
			case <-w.Event:
				fmt.Println()
				if err := printStatusTable(sf); err != nil {
					log.Warnw("refreshing status table failed", "err", err)
				}
			case err := <-w.Error:
				log.Warnw("watching status file failed", "err", err)
			case <-w.Closed:
				return
			}
		}
	}()

	return w.Start(250 * time.Millisecond)
}

// ---- history ----

type historyCommand struct{}

func (c *historyCommand) Execute([]string) error {
	hist, err := history.Open(filepath.Join(paths.RunsDir, "qtb.db"))
	if err != nil {
		return err
	}
	defer hist.Close()

	runs, err := hist.List()
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%s  %-16s  run %s\n", run.Started.Format(time.RFC3339), run.Suite, run.ID)
		names := make([]string, 0, len(run.Experiments))
		for name := range run.Experiments {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-12s %s\n", name, run.Experiments[name])
		}
	}
	return nil
}

// ---- analyze ----

type analyzeCommand struct {
	Args struct {
		Experiments string `positional-arg-name:"experiments" description:"Path to experiments YAML file"`
	} `positional-args:"yes" required:"yes"`
}

// Analysis itself lives in external tooling; this only marks the suite
// directory so that tooling knows where to pick up.
func (c *analyzeCommand) Execute([]string) error {
	sf, err := config.LoadSuiteFile(c.Args.Experiments)
	if err != nil {
		return err
	}
	suiteDir := filepath.Join(paths.RunsDir, sf.Suite.Name)
	if err := os.MkdirAll(suiteDir, 0755); err != nil {
		return err
	}
	placeholder := filepath.Join(suiteDir, "analysis_placeholder.txt")
	text := "Analysis placeholder. External tooling generates a notebook here that loads qlogs from subdirectories.\n"
	if err := os.WriteFile(placeholder, []byte(text), 0644); err != nil {
		return err
	}
	fmt.Printf("Created analysis placeholder at %s\n", placeholder)
	return nil
}
