// Package runner sequences one experiment at a time: resolve bindings,
// shape the link, run the process pair, record the outcome, and always
// revert the shaping before moving on.
package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/qtb-dev/qtb/internal/config"
	"github.com/qtb-dev/qtb/internal/emulation"
	"github.com/qtb-dev/qtb/internal/proc"
	"github.com/qtb-dev/qtb/internal/status"
)

// NetworkEmulator shapes and unshapes one interface.
type NetworkEmulator interface {
	Apply(iface string, p emulation.Profile) error
	Revert(iface string)
}

// PairSupervisor runs server+client pairs.
type PairSupervisor interface {
	RunPair(p proc.Pair) (proc.Result, error)
	RunPairWithBaseline(primary proc.Pair, qlogDir string) (bool, error)
}

// RecordStore persists per-experiment status transitions.
type RecordStore interface {
	Update(expName string, st status.Status, logDir string) error
}

// Registries are the externally loaded host/link/implementation bindings,
// resolved by name per experiment.
type Registries struct {
	Hosts           map[string]config.Host
	Links           map[string]config.Link
	Implementations map[string]config.Implementation
}

// Runner drives one suite. Experiments run strictly sequentially: they
// share the interface under test and the host roles.
type Runner struct {
	reg     Registries
	emu     NetworkEmulator
	sup     PairSupervisor
	store   RecordStore
	runsDir string
	log     *zap.SugaredLogger
}

func New(reg Registries, emu NetworkEmulator, sup PairSupervisor, store RecordStore, runsDir string, log *zap.SugaredLogger) *Runner {
	return &Runner{
		reg:     reg,
		emu:     emu,
		sup:     sup,
		store:   store,
		runsDir: runsDir,
		log:     log,
	}
}

// RunSuite runs every experiment in defined order. A ConfigError or a
// server shutdown failure aborts the remaining experiments; emulation and
// process failures are terminal for their own experiment only.
func (r *Runner) RunSuite(suite config.Suite, exps config.ExperimentList) error {
	for _, exp := range exps {
		if err := r.runExperiment(suite, exp.Name, exp.Experiment); err != nil {
			return fmt.Errorf("experiment %s/%s: %w", suite.Name, exp.Name, err)
		}
	}
	return nil
}

// runExperiment is the per-experiment state machine. A nil return means
// the suite loop may continue, whether this experiment ended done, failed
// or skipped.
func (r *Runner) runExperiment(suite config.Suite, expName string, exp config.Experiment) error {
	src, ok := r.reg.Hosts[suite.Src]
	if !ok {
		return configErrorf("unknown src host %q", suite.Src)
	}
	dest, ok := r.reg.Hosts[suite.Dest]
	if !ok {
		return configErrorf("unknown dest host %q", suite.Dest)
	}
	link, ok := r.reg.Links[suite.Link]
	if !ok {
		return configErrorf("unknown link %q", suite.Link)
	}
	impl, ok := r.reg.Implementations[suite.Implementation]
	if !ok {
		return configErrorf("unknown implementation %q", suite.Implementation)
	}

	logDir := filepath.Join(r.runsDir, suite.Name, expName)
	serverQlogDir := filepath.Join(logDir, "server")
	clientQlogDir := filepath.Join(logDir, "client")
	for _, dir := range []string{serverQlogDir, clientQlogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	if err := r.store.Update(expName, status.Running, logDir); err != nil {
		return err
	}
	r.log.Infow("experiment running", "suite", suite.Name, "experiment", expName)

	if link.Type == config.LinkTypeLocalIface {
		profile := emulation.Profile{
			RTTms:         exp.RTTms,
			LossPct:       exp.LossPct,
			BandwidthMbit: exp.BandwidthMbit,
			DelayMs:       exp.DelayMs,
		}
		if err := r.emu.Apply(link.Iface, profile); err != nil {
			// Nothing was applied, so nothing is owed a revert.
			r.log.Errorw("emulation failed", "experiment", expName, "err", err)
			return r.store.Update(expName, status.Failed, logDir)
		}
		// Applied exactly once; revert exactly once, on every exit path
		// from here on.
		defer r.emu.Revert(link.Iface)
	} else {
		r.log.Infow("link is not emulatable, skipping shaping",
			"link", suite.Link, "type", link.Type)
	}

	loadRPS := suite.LoadRPS
	if exp.LoadRPS != nil {
		loadRPS = *exp.LoadRPS
	}
	duration := suite.Duration
	if exp.Duration != nil {
		duration = *exp.Duration
	}

	serverVars := map[string]string{
		"server_ip": src.IP,
		"client_ip": dest.IP,
		"port":      strconv.Itoa(impl.DefaultPort),
		"qlog_dir":  serverQlogDir,
		"exp_name":  expName,
	}
	serverCmd, err := renderCommand("server", impl.ServerCmd, serverVars)
	if err != nil {
		return err
	}
	clientVars := map[string]string{
		"server_ip": src.IP,
		"client_ip": dest.IP,
		"port":      strconv.Itoa(impl.DefaultPort),
		"qlog_dir":  clientQlogDir,
		"exp_name":  expName,
		"rps":       strconv.Itoa(loadRPS),
		"duration":  strconv.Itoa(duration),
	}
	clientCmd, err := renderCommand("client", impl.ClientCmd, clientVars)
	if err != nil {
		return err
	}

	if impl.Type != config.ImplementationTypeLocal {
		r.log.Infow("implementation type is not supported, skipping",
			"implementation", suite.Implementation, "type", impl.Type)
		return r.store.Update(expName, status.Skipped, logDir)
	}

	pair := proc.Pair{ServerCmd: serverCmd, ClientCmd: clientCmd, LogDir: logDir}
	r.log.Infow("launching pair", "server", serverCmd, "client", clientCmd)

	var success bool
	if suite.CompareTCP {
		success, err = r.sup.RunPairWithBaseline(pair, clientQlogDir)
	} else {
		var res proc.Result
		res, err = r.sup.RunPair(pair)
		success = res.Success
	}
	if err != nil {
		if stErr := r.store.Update(expName, status.Failed, logDir); stErr != nil {
			return stErr
		}
		var shutdownErr *proc.ShutdownError
		if errors.As(err, &shutdownErr) {
			// A server we could not kill means cleanup is no longer
			// guaranteed; stop the suite instead of compounding leaks.
			return err
		}
		r.log.Errorw("process pair failed to run", "experiment", expName, "err", err)
		return nil
	}

	if success {
		return r.store.Update(expName, status.Done, logDir)
	}
	return r.store.Update(expName, status.Failed, logDir)
}
