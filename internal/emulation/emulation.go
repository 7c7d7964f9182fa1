// Package emulation applies and reverts link impairments on a single
// network interface via tc. Bandwidth caps are an htb root with one class
// and the netem delay/loss discipline attached as its child; without a cap
// netem becomes the root discipline directly.
package emulation

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Profile is the abstract shape of one experiment's link conditions.
// RTTms is an operator hint only: the applied one-way delay is DelayMs, and
// a symmetric delay of DelayMs on a path approximates an RTT of roughly
// twice that.
type Profile struct {
	RTTms         int
	LossPct       float64
	BandwidthMbit int
	DelayMs       int
}

// CommandRunner abstracts shell command execution so shaping can be
// exercised without root or a real interface.
type CommandRunner interface {
	Run(name string, args ...string) (stdout []byte, stderr []byte, exitCode int32, err error)
}

// Error reports a failed shaping command together with its stderr.
type Error struct {
	Iface  string
	Cmd    string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("emulation on %s: %q failed: %s", e.Iface, e.Cmd, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("emulation on %s: %q failed: %v", e.Iface, e.Cmd, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Emulator shells out to tc for one interface at a time.
type Emulator struct {
	run CommandRunner
	log *zap.SugaredLogger
}

func NewEmulator(run CommandRunner, log *zap.SugaredLogger) *Emulator {
	return &Emulator{run: run, log: log}
}

// Apply installs the profile on iface. Any pre-existing discipline is
// removed first; that removal is idempotent by contract and its failures
// are ignored, because a fresh interface has nothing to delete.
func (e *Emulator) Apply(iface string, p Profile) error {
	e.reset(iface)

	e.log.Infow("applying emulation",
		"iface", iface,
		"rtt_ms", p.RTTms,
		"loss_pct", p.LossPct,
		"bw_mbit", p.BandwidthMbit,
		"delay_ms", p.DelayMs)

	netem := netemArgs(p)
	if p.BandwidthMbit > 0 {
		rate := strconv.Itoa(p.BandwidthMbit) + "mbit"
		cmds := [][]string{
			{"qdisc", "add", "dev", iface, "root", "handle", "1:", "htb", "default", "1"},
			{"class", "add", "dev", iface, "parent", "1:", "classid", "1:1", "htb", "rate", rate},
			append([]string{"qdisc", "add", "dev", iface, "parent", "1:1", "handle", "10:", "netem"}, netem...),
		}
		for _, args := range cmds {
			if err := e.tc(iface, args); err != nil {
				return err
			}
		}
		return nil
	}
	return e.tc(iface, append([]string{"qdisc", "add", "dev", iface, "root", "netem"}, netem...))
}

// Revert removes shaping from iface. Reverting is cleanup: failures are
// logged, never returned, and reverting an unshaped interface is a no-op.
func (e *Emulator) Revert(iface string) {
	_, stderr, _, err := e.run.Run("tc", "qdisc", "del", "dev", iface, "root")
	if err != nil {
		e.log.Warnw("reverting emulation failed",
			"iface", iface,
			"stderr", strings.TrimSpace(string(stderr)),
			"err", err)
		return
	}
	e.log.Infow("reverted emulation", "iface", iface)
}

// reset is the best-effort removal before Apply. The interface may already
// be unshaped, so errors are dropped on purpose.
func (e *Emulator) reset(iface string) {
	_, _, _, _ = e.run.Run("tc", "qdisc", "del", "dev", iface, "root")
}

func (e *Emulator) tc(iface string, args []string) error {
	_, stderr, _, err := e.run.Run("tc", args...)
	if err != nil {
		return &Error{
			Iface:  iface,
			Cmd:    "tc " + strings.Join(args, " "),
			Stderr: string(stderr),
			Err:    err,
		}
	}
	return nil
}

func netemArgs(p Profile) []string {
	args := []string{"delay", strconv.Itoa(p.DelayMs) + "ms"}
	if p.LossPct > 0 {
		args = append(args, "loss", strconv.FormatFloat(p.LossPct, 'f', -1, 64)+"%")
	}
	return args
}
