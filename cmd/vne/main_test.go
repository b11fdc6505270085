package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/vne-simulator/internal/report"
)

const cliScenario = `
substrate:
  id: sub
  one_tier: {servers: 2, switches: 1, cpu: 4, memory: 4, storage: 4, bandwidth: 10}
requests:
  - id: v1
    servers: [{id: v1_a, cpu: 2, memory: 2, storage: 2}]
  - id: v2
    servers: [{id: v2_a, cpu: 2, memory: 2, storage: 2}]
  - id: v3
    servers: [{id: v3_a, cpu: 4, memory: 4, storage: 4}]
`

func writeScenario(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(cliScenario), 0o600); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunPrintsBatchAndReport(t *testing.T) {
	out, err := execute(t, "run", writeScenario(t), "--log-level", "error")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{
		"batch: 2 accepted, 1 rejected",
		"v3 rejected",
		"accepted vnrs",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunYAMLReport(t *testing.T) {
	out, err := execute(t, "run", writeScenario(t), "-o", "yaml", "--log-level", "error")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	doc := out[strings.Index(out, "substrate_id:"):]
	var r report.Report
	if err := yaml.Unmarshal([]byte(doc), &r); err != nil {
		t.Fatalf("decode report: %v\n%s", err, doc)
	}
	if r.AcceptedVNRs != 2 || r.ActiveServers != 2 {
		t.Fatalf("report = %+v", r)
	}
}

func TestRunRemoveTriggersRepair(t *testing.T) {
	out, err := execute(t, "run", writeScenario(t), "--remove", "sub_srv_0", "-o", "yaml", "--log-level", "error")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "repair: 1 torn down [v1]") {
		t.Fatalf("output missing repair line:\n%s", out)
	}
	if !strings.Contains(out, "accepted_vnrs: 1") {
		t.Fatalf("expected one accepted request after repair:\n%s", out)
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	path := writeScenario(t)
	if _, err := execute(t, "run", path, "-o", "xml"); err == nil {
		t.Fatalf("run with unknown output format succeeded")
	}
	if _, err := execute(t, "run", path, "--min-hops", "3", "--max-hops", "2"); err == nil {
		t.Fatalf("run with inverted hop bounds succeeded")
	}
	if _, err := execute(t, "run"); err == nil {
		t.Fatalf("run without a scenario succeeded")
	}
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", writeScenario(t))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if want := "ok: 4 networks, 6 nodes, 4 links, 2 paths"; !strings.Contains(out, want) {
		t.Fatalf("validate output = %q, want %q", out, want)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != "vne dev" {
		t.Fatalf("version output = %q", out)
	}
}
