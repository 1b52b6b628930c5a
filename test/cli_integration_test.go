//go:build integration

package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

// TestCLIVersionOutput checks the version command prints build information.
func TestCLIVersionOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	binaryPath := buildThemisBinary(t)

	cmd := exec.Command(binaryPath, "version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("version command failed: %v\nOutput: %s", err, output)
	}

	if !bytes.Contains(output, []byte("Themis")) {
		t.Errorf("version output should contain 'Themis', got: %s", output)
	}
	if !bytes.Contains(output, []byte("Go Version:")) {
		t.Errorf("version output should contain Go version, got: %s", output)
	}
}

// TestCLIEvaluatePipeline drives index, evaluate, decisions, stats, and
// tasks through the binary against an offline configuration.
func TestCLIEvaluatePipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configFile, offlineConfig(tmpDir, false, ""))

	policyFile := filepath.Join(tmpDir, "aml-ctr.yaml")
	createTestPolicyFile(t, policyFile)

	binaryPath := buildThemisBinary(t)

	// Index the policy document.
	out := runCLI(t, binaryPath, "index", policyFile, "--config", configFile)
	if !strings.Contains(out, "✓ Indexed aml-ctr v1") {
		t.Fatalf("unexpected index output: %s", out)
	}

	// Indexing again is a no-op.
	out = runCLI(t, binaryPath, "index", policyFile, "--config", configFile)
	if !strings.Contains(out, "unchanged") {
		t.Errorf("re-index should report unchanged, got: %s", out)
	}

	// Evaluate a transaction and parse the JSON decision.
	out = runCLI(t, binaryPath, "evaluate",
		"--transaction-id", "TXN-cli-1",
		"--amount", "60000",
		"--currency", "usd",
		"--sender", "Acme Exports GmbH",
		"--receiver", "Island Holdings Ltd",
		"--sender-country", "de",
		"--receiver-country", "ky",
		"--description", "cash settlement",
		"--format", "json",
		"--config", configFile)

	var decision struct {
		TraceID       string  `json:"trace_id"`
		Verdict       string  `json:"verdict"`
		RiskScore     float64 `json:"risk_score"`
		SynthesisPath string  `json:"synthesis_path"`
		Degraded      bool    `json:"degraded"`
	}
	if err := json.Unmarshal([]byte(out), &decision); err != nil {
		t.Fatalf("evaluate output is not a JSON decision: %v\nOutput: %s", err, out)
	}
	if decision.TraceID == "" || decision.Verdict == "" {
		t.Fatalf("incomplete decision: %+v", decision)
	}
	if decision.SynthesisPath != "FALLBACK_RULES" {
		t.Errorf("synthesis path = %s, want FALLBACK_RULES (no reasoner configured)", decision.SynthesisPath)
	}

	// The decision shows up in the ledger listings.
	out = runCLI(t, binaryPath, "decisions", "list", "--format", "csv", "--config", configFile)
	if !strings.Contains(out, "trace_id,transaction_id,verdict") {
		t.Errorf("decisions CSV missing header: %s", out)
	}
	if !strings.Contains(out, "TXN-cli-1") {
		t.Errorf("decisions CSV missing the evaluated transaction: %s", out)
	}

	out = runCLI(t, binaryPath, "decisions", "show", decision.TraceID, "--config", configFile)
	if !strings.Contains(out, decision.TraceID) || !strings.Contains(out, "TXN-cli-1") {
		t.Errorf("decisions show output incomplete: %s", out)
	}

	// Stats report the corpus and the decision.
	out = runCLI(t, binaryPath, "stats", "--format", "json", "--config", configFile)
	var stats struct {
		Documents int   `json:"documents"`
		Decisions int64 `json:"decisions"`
		Chunks    int   `json:"chunks"`
	}
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("stats output is not JSON: %v\nOutput: %s", err, out)
	}
	if stats.Documents != 1 || stats.Decisions != 1 || stats.Chunks == 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	// Nothing queued yet.
	out = runCLI(t, binaryPath, "tasks", "--config", configFile)
	if !strings.Contains(out, "No tasks queued") {
		t.Errorf("tasks should be empty, got: %s", out)
	}

	// Review the decision, then confirm the feedback is shown.
	out = runCLI(t, binaryPath, "review", decision.TraceID,
		"--agree", "--by", "analyst@example.com", "--config", configFile)
	if !strings.Contains(out, "Recorded agreement") {
		t.Errorf("review output unexpected: %s", out)
	}
	out = runCLI(t, binaryPath, "decisions", "show", decision.TraceID, "--config", configFile)
	if !strings.Contains(out, "analyst@example.com agreed") {
		t.Errorf("decisions show missing review: %s", out)
	}
}

// TestCLIQueryAnswer checks the question-answering path through the binary.
func TestCLIQueryAnswer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configFile, offlineConfig(tmpDir, false, ""))

	policyFile := filepath.Join(tmpDir, "aml-ctr.yaml")
	createTestPolicyFile(t, policyFile)

	binaryPath := buildThemisBinary(t)
	runCLI(t, binaryPath, "index", policyFile, "--config", configFile)

	out := runCLI(t, binaryPath, "query",
		"When is a currency transaction report required?",
		"--topic", "aml", "--config", configFile)
	if !strings.Contains(out, "Confidence:") {
		t.Errorf("query output missing confidence: %s", out)
	}
}

// TestCLIWorkerStartStop starts the worker, scrapes its metrics endpoint,
// and checks graceful shutdown on SIGINT.
func TestCLIWorkerStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	tmpDir := t.TempDir()
	metricsAddr := "127.0.0.1:19464"
	configFile := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configFile, offlineConfig(tmpDir, true, metricsAddr))

	binaryPath := buildThemisBinary(t)

	cmd := exec.Command(binaryPath, "worker", "--config", configFile)
	cmd.Dir = tmpDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}()

	if !waitForHealthy("http://"+metricsAddr+"/health", 10*time.Second) {
		t.Fatalf("worker failed to start\nStdout: %s\nStderr: %s", stdout.String(), stderr.String())
	}

	// The collector serves its namespace even before any decision.
	resp, err := http.Get("http://" + metricsAddr + "/metrics")
	if err != nil {
		t.Fatalf("metrics scrape failed: %v", err)
	}
	body := new(bytes.Buffer)
	body.ReadFrom(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body.String(), "themis_") {
		t.Errorf("metrics output missing themis namespace:\n%s", body.String())
	}

	// Graceful shutdown.
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		t.Fatalf("failed to signal worker: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("worker exited with error: %v\nStderr: %s", err, stderr.String())
		}
	case <-time.After(15 * time.Second):
		t.Fatal("worker did not shut down within 15s")
	}

	if !strings.Contains(stdout.String(), "Worker stopped") {
		t.Errorf("missing shutdown confirmation in output: %s", stdout.String())
	}
}

// Helper functions

// buildThemisBinary builds the themis binary for testing
func buildThemisBinary(t *testing.T) string {
	t.Helper()

	binaryPath := "../bin/themis"
	if _, err := os.Stat(binaryPath); err == nil {
		return binaryPath
	}

	t.Log("Building themis binary...")
	cmd := exec.Command("go", "build", "-o", binaryPath, "../cmd/themis")
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to build themis: %v\nOutput: %s", err, output)
	}

	return binaryPath
}

func runCLI(t *testing.T, binary string, args ...string) string {
	t.Helper()

	cmd := exec.Command(binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("command %v failed: %v\nOutput: %s", args, err, output)
	}
	return string(output)
}

// offlineConfig renders a config that needs no network: local embedder, no
// reasoner, SQLite files under dir.
func offlineConfig(dir string, metricsEnabled bool, metricsAddr string) string {
	return fmt.Sprintf(`
ledger:
  backend: sqlite
  sqlite:
    path: %q

vector_store:
  backend: sqlite
  sqlite:
    path: %q

queue:
  path: %q
  poll_interval: 200ms

embedding:
  provider: local

reasoner:
  provider: none

telemetry:
  logging:
    level: info
    format: json
  metrics:
    enabled: %t
    address: %q
`,
		filepath.Join(dir, "ledger.db"),
		filepath.Join(dir, "vectors.db"),
		filepath.Join(dir, "queue.db"),
		metricsEnabled, metricsAddr)
}

// waitForHealthy waits for a health endpoint to return 200
func waitForHealthy(url string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 1 * time.Second}

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return true
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// createTestConfig creates a test configuration file
func createTestConfig(t *testing.T, path, content string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create config file: %v", err)
	}
}

// createTestPolicyFile creates a minimal policy document for indexing
func createTestPolicyFile(t *testing.T, path string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(amlPolicyV1), 0644); err != nil {
		t.Fatalf("failed to create policy file: %v", err)
	}
}
