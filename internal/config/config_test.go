package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const suiteYAML = `suite:
  name: s1
  implementation: aioquic
  src: h1
  dest: h2
  link: lo
  duration: 30
  load_rps: 100
  compare_tcp: false
experiments:
  e1:
    rtt_ms: 50
    loss_pct: 2.5
    bw_mbit: 10
    delay_ms: 5
  e0:
    rtt_ms: 10
    loss_pct: 0.0
    bw_mbit: 20
    delay_ms: 5
    load_rps: 10
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSuiteFilePreservesExperimentOrder(t *testing.T) {
	sf, err := LoadSuiteFile(writeTemp(t, suiteYAML))
	if err != nil {
		t.Fatalf("LoadSuiteFile: %v", err)
	}
	if sf.Experiments[0].Name != "e1" || sf.Experiments[1].Name != "e0" {
		t.Fatalf("order = [%s %s], want [e1 e0]", sf.Experiments[0].Name, sf.Experiments[1].Name)
	}
	if sf.Experiments[0].LossPct != 2.5 {
		t.Fatalf("e1 loss = %v", sf.Experiments[0].LossPct)
	}
	if sf.Experiments[1].LoadRPS == nil || *sf.Experiments[1].LoadRPS != 10 {
		t.Fatalf("e0 load_rps override not parsed: %+v", sf.Experiments[1].Experiment)
	}
	if sf.Experiments[0].LoadRPS != nil {
		t.Fatalf("e1 has no override, got %v", *sf.Experiments[0].LoadRPS)
	}
}

func TestLoadSuiteFileAppliesDefaults(t *testing.T) {
	sf, err := LoadSuiteFile(writeTemp(t, `suite:
  name: s1
  implementation: aioquic
  src: h1
  dest: h2
  link: lo
experiments:
  e0:
    delay_ms: 5
`))
	if err != nil {
		t.Fatalf("LoadSuiteFile: %v", err)
	}
	if sf.Suite.Duration != DefaultDuration || sf.Suite.LoadRPS != DefaultLoadRPS {
		t.Fatalf("defaults not applied: %+v", sf.Suite)
	}
}

func TestLoadSuiteFileRejectsUnknownFields(t *testing.T) {
	_, err := LoadSuiteFile(writeTemp(t, `suite:
  name: s1
  implementation: aioquic
  src: h1
  dest: h2
  link: lo
experiments:
  e0:
    delay_ms: 5
    not_a_field: 1
`))
	if err == nil {
		t.Fatal("unknown experiment field accepted")
	}
}

func TestLoadSuiteFileRejectsNonSuiteFile(t *testing.T) {
	_, err := LoadSuiteFile(writeTemp(t, "suite:\n  name: s1\n"))
	if err == nil {
		t.Fatal("file without experiments accepted")
	}
}

func TestSuiteFileRoundTrip(t *testing.T) {
	sf, err := LoadSuiteFile(writeTemp(t, suiteYAML))
	if err != nil {
		t.Fatalf("LoadSuiteFile: %v", err)
	}
	out := filepath.Join(t.TempDir(), "exp", "copy.yml")
	if err := SaveSuiteFile(out, sf); err != nil {
		t.Fatalf("SaveSuiteFile: %v", err)
	}
	again, err := LoadSuiteFile(out)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if diff := cmp.Diff(sf, again); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadHostsMissingFileIsEmptyRegistry(t *testing.T) {
	hf, err := LoadHosts(filepath.Join(t.TempDir(), "hosts.yml"))
	if err != nil {
		t.Fatalf("LoadHosts: %v", err)
	}
	if len(hf.Hosts) != 0 || len(hf.Links) != 0 {
		t.Fatalf("registry not empty: %+v", hf)
	}
}

func TestHostsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "hosts.yml")
	hf := &HostsFile{
		Hosts: map[string]Host{"h1": {Type: HostTypeLocal, IP: "127.0.0.1"}},
		Links: map[string]Link{"lo": {Type: LinkTypeLocalIface, Iface: "lo", Description: "loopback"}},
	}
	if err := SaveHosts(path, hf); err != nil {
		t.Fatalf("SaveHosts: %v", err)
	}
	again, err := LoadHosts(path)
	if err != nil {
		t.Fatalf("LoadHosts: %v", err)
	}
	if diff := cmp.Diff(hf, again); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadImplementationsFillsDefaultPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "implementations.yml")
	content := `implementations:
  aioquic:
    type: local
    server_cmd: srv
    client_cmd: cli
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadImplementations(path)
	if err != nil {
		t.Fatalf("LoadImplementations: %v", err)
	}
	if got := f.Implementations["aioquic"].DefaultPort; got != DefaultPort {
		t.Fatalf("default port = %d, want %d", got, DefaultPort)
	}
}
