// Package config holds the qtb registries: hosts and links, implementation
// command templates, and experiment-suite definitions. Everything is plain
// YAML on disk so the files can be edited by hand between runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	HostTypeLocal  = "local"
	HostTypeDocker = "docker"
	HostTypeSSH    = "ssh"

	LinkTypeLocalIface    = "local_iface"
	LinkTypeDockerNetwork = "docker_network"

	ImplementationTypeLocal = "local"

	// Suite-level fallbacks, applied on load when the file leaves the
	// fields unset.
	DefaultDuration = 30
	DefaultLoadRPS  = 100
	DefaultPort     = 4433
)

// Host is a named endpoint an experiment binds to.
type Host struct {
	Type string `yaml:"type"`
	IP   string `yaml:"ip"`
	SSH  string `yaml:"ssh,omitempty"`
}

// Link names the network path between the suite's hosts. Only local_iface
// links can be shaped; other types run unshaped.
type Link struct {
	Type        string `yaml:"type"`
	Iface       string `yaml:"iface"`
	Description string `yaml:"description,omitempty"`
}

// Implementation is a transport under test, described purely by command
// templates. The placeholders in the templates are resolved by the runner.
type Implementation struct {
	Type        string `yaml:"type"`
	DefaultPort int    `yaml:"default_port"`
	ServerCmd   string `yaml:"server_cmd"`
	ClientCmd   string `yaml:"client_cmd"`
}

// Suite is the shared context of a set of experiments: one implementation,
// one host pair, one link, and the default load parameters.
type Suite struct {
	Name           string   `yaml:"name"`
	Implementation string   `yaml:"implementation"`
	Src            string   `yaml:"src"`
	Dest           string   `yaml:"dest"`
	Link           string   `yaml:"link"`
	Duration       int      `yaml:"duration"`
	LoadRPS        int      `yaml:"load_rps"`
	CompareTCP     bool     `yaml:"compare_tcp"`
	Metrics        []string `yaml:"metrics,omitempty"`
}

// Experiment is one network-condition trial. Duration and LoadRPS are
// optional overrides of the suite defaults.
type Experiment struct {
	RTTms         int      `yaml:"rtt_ms"`
	LossPct       float64  `yaml:"loss_pct"`
	BandwidthMbit int      `yaml:"bw_mbit"`
	DelayMs       int      `yaml:"delay_ms"`
	Duration      *int     `yaml:"duration,omitempty"`
	LoadRPS       *int     `yaml:"load_rps,omitempty"`
}

// NamedExperiment pairs an experiment with its id within the suite.
type NamedExperiment struct {
	Name string
	Experiment
}

// ExperimentList preserves the file order of the experiments mapping, since
// the suite loop runs experiments in their defined order.
type ExperimentList []NamedExperiment

func (l *ExperimentList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var ordered yaml.MapSlice
	if err := unmarshal(&ordered); err != nil {
		return err
	}
	var byName map[string]Experiment
	if err := unmarshal(&byName); err != nil {
		return err
	}
	out := make(ExperimentList, 0, len(ordered))
	for _, item := range ordered {
		name, ok := item.Key.(string)
		if !ok {
			return fmt.Errorf("experiment id %v is not a string", item.Key)
		}
		out = append(out, NamedExperiment{Name: name, Experiment: byName[name]})
	}
	*l = out
	return nil
}

func (l ExperimentList) MarshalYAML() (interface{}, error) {
	out := make(yaml.MapSlice, 0, len(l))
	for _, e := range l {
		out = append(out, yaml.MapItem{Key: e.Name, Value: e.Experiment})
	}
	return out, nil
}

// SuiteFile is one experiments YAML file: a suite plus its ordered
// experiment definitions.
type SuiteFile struct {
	Suite       Suite          `yaml:"suite"`
	Experiments ExperimentList `yaml:"experiments"`
}

// HostsFile mirrors hosts.yml: the host and link registries.
type HostsFile struct {
	Hosts map[string]Host `yaml:"hosts"`
	Links map[string]Link `yaml:"links"`
}

// ImplementationsFile mirrors implementations.yml.
type ImplementationsFile struct {
	Implementations map[string]Implementation `yaml:"implementations"`
}

// LoadSuiteFile reads and validates an experiments YAML file.
func LoadSuiteFile(path string) (*SuiteFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite file: %w", err)
	}
	sf := SuiteFile{}
	if err := yaml.UnmarshalStrict(b, &sf); err != nil {
		return nil, fmt.Errorf("error unmarshaling YAML: %w", err)
	}
	if sf.Suite.Name == "" || len(sf.Experiments) == 0 {
		return nil, fmt.Errorf("%s does not look like a qtb experiments file", path)
	}
	if sf.Suite.Duration == 0 {
		sf.Suite.Duration = DefaultDuration
	}
	if sf.Suite.LoadRPS == 0 {
		sf.Suite.LoadRPS = DefaultLoadRPS
	}
	return &sf, nil
}

// SaveSuiteFile writes a suite definition, creating parent directories.
func SaveSuiteFile(path string, sf *SuiteFile) error {
	return saveYAML(path, sf)
}

// LoadHosts reads hosts.yml. A missing file is an empty registry, so the
// first add-host works on a fresh workspace.
func LoadHosts(path string) (*HostsFile, error) {
	hf := HostsFile{}
	if err := loadYAML(path, &hf); err != nil {
		return nil, err
	}
	if hf.Hosts == nil {
		hf.Hosts = map[string]Host{}
	}
	if hf.Links == nil {
		hf.Links = map[string]Link{}
	}
	return &hf, nil
}

// SaveHosts writes hosts.yml back, creating parent directories.
func SaveHosts(path string, hf *HostsFile) error {
	return saveYAML(path, hf)
}

// LoadImplementations reads implementations.yml. Missing file means an
// empty registry.
func LoadImplementations(path string) (*ImplementationsFile, error) {
	f := ImplementationsFile{}
	if err := loadYAML(path, &f); err != nil {
		return nil, err
	}
	if f.Implementations == nil {
		f.Implementations = map[string]Implementation{}
	}
	for name, impl := range f.Implementations {
		if impl.DefaultPort == 0 {
			impl.DefaultPort = DefaultPort
			f.Implementations[name] = impl
		}
	}
	return &f, nil
}

func loadYAML(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(b, out); err != nil {
		return fmt.Errorf("error unmarshaling %s: %w", path, err)
	}
	return nil
}

func saveYAML(path string, in interface{}) error {
	b, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("error marshaling YAML: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
