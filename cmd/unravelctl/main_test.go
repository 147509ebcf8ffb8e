package main

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RowanDark/unravel/internal/extract"
	"github.com/RowanDark/unravel/internal/ranker"
	"github.com/RowanDark/unravel/internal/service"
	"github.com/RowanDark/unravel/internal/store"
)

// isolate points HOME and the working directory at empty temp dirs so no
// user configuration leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", filepath.Join(dir, "home"))
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	return dir
}

func writeBlob(t *testing.T, dir string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, "blob.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// hiddenBlob embeds "secret" XORed with 0x20 between 0xFF delimiters.
func hiddenBlob() []byte {
	buf := []byte{0xFF, 0xFF}
	for _, b := range []byte("secret") {
		buf = append(buf, b^0x20)
	}
	return append(buf, 0xFF, 0xFF)
}

func TestAnalyzeJSON(t *testing.T) {
	dir := isolate(t)
	path := writeBlob(t, dir, hiddenBlob())

	code, out, errOut := runCLI(t, "--log-level", "error", "analyze", path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	var rep report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if rep.Size != 10 || rep.Compression != "none" || len(rep.Digest) != 64 {
		t.Fatalf("unexpected report header %+v", rep)
	}
	found := false
	for _, h := range rep.Result.Final {
		if h.Text == "secret" && h.Transform == "xor_20" && h.Start == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("hidden string not reported: %+v", rep.Result.Final)
	}
}

func TestAnalyzeTextWithFindings(t *testing.T) {
	dir := isolate(t)
	path := writeBlob(t, dir, []byte("contact alerts@corp.io"))
	findingsPath := filepath.Join(dir, "out", "findings.jsonl")

	code, out, errOut := runCLI(t, "--log-level", "error", "analyze", "-f", "text", "--findings-out", findingsPath, path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "OFFSET") || !strings.Contains(out, `"contact alerts@corp.io"`) {
		t.Fatalf("unexpected text output:\n%s", out)
	}
	if !strings.Contains(out, "seer.email_address") {
		t.Fatalf("findings missing from text output:\n%s", out)
	}
	data, err := os.ReadFile(findingsPath)
	if err != nil {
		t.Fatalf("read findings: %v", err)
	}
	if !bytes.Contains(data, []byte(`"seer.email_address"`)) || bytes.Contains(data, []byte("alerts@corp.io")) {
		t.Fatalf("findings file should hold masked email evidence: %s", data)
	}
}

func readRanked(t *testing.T, path string) []ranker.Hit {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read ranked output: %v", err)
	}
	var hits []ranker.Hit
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		var h ranker.Hit
		if err := json.Unmarshal(line, &h); err != nil {
			t.Fatalf("decode ranked hit: %v", err)
		}
		hits = append(hits, h)
	}
	return hits
}

func TestAnalyzeEmitUsesConfiguredOutputDir(t *testing.T) {
	dir := isolate(t)
	path := writeBlob(t, dir, []byte("contact alerts@corp.io"))
	outDir := filepath.Join(dir, "results")
	t.Setenv("UNRAVEL_OUT", outDir)

	code, out, errOut := runCLI(t, "--log-level", "error", "analyze", "--emit", "--findings", path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	var rep report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	rankedPath := filepath.Join(outDir, "ranked.jsonl")
	if rep.RankedPath != rankedPath {
		t.Fatalf("expected ranked path %s, got %s", rankedPath, rep.RankedPath)
	}
	hits := readRanked(t, rankedPath)
	if len(hits) != len(rep.Result.Final) || hits[0] != rep.Result.Final[0] {
		t.Fatalf("ranked file differs from report: %+v vs %+v", hits, rep.Result.Final)
	}
	data, err := os.ReadFile(filepath.Join(outDir, "findings.jsonl"))
	if err != nil {
		t.Fatalf("read findings: %v", err)
	}
	if !bytes.Contains(data, []byte(`"seer.email_address"`)) {
		t.Fatalf("expected email finding in %s", data)
	}
}

func TestAnalyzeOutFlagOverridesOutputDir(t *testing.T) {
	dir := isolate(t)
	path := writeBlob(t, dir, hiddenBlob())
	t.Setenv("UNRAVEL_OUT", filepath.Join(dir, "configured"))
	outDir := filepath.Join(dir, "explicit")

	code, _, errOut := runCLI(t, "--log-level", "error", "analyze", "--out", outDir, path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	found := false
	for _, h := range readRanked(t, filepath.Join(outDir, "ranked.jsonl")) {
		if h.Text == "secret" && h.Transform == "xor_20" {
			found = true
		}
	}
	if !found {
		t.Fatal("hidden string missing from ranked output")
	}
	if _, err := os.Stat(filepath.Join(dir, "configured")); !os.IsNotExist(err) {
		t.Fatalf("configured output dir should be untouched, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "findings.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("findings should only be written with --findings, stat err = %v", err)
	}
}

func TestAnalyzeBlobWithStrayGzipMagic(t *testing.T) {
	dir := isolate(t)
	data := append([]byte{0x1f, 0x8b, 0x00, 0x01, 0xff}, []byte("leaderboard")...)
	path := writeBlob(t, dir, data)

	code, out, errOut := runCLI(t, "--log-level", "warn", "analyze", path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(errOut, "container did not decode") {
		t.Fatalf("expected fallback warning, got %q", errOut)
	}
	var rep report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Compression != "none" || rep.Size != len(data) {
		t.Fatalf("expected raw analysis, got %+v", rep)
	}
	found := false
	for _, h := range rep.Result.Final {
		if h.Text == "leaderboard" {
			found = true
		}
	}
	if !found {
		t.Fatalf("leaderboard not recovered: %+v", rep.Result.Final)
	}
}

func TestAnalyzeSaveAndHistory(t *testing.T) {
	dir := isolate(t)
	path := writeBlob(t, dir, []byte("hello world"))
	db := filepath.Join(dir, "history.db")

	code, out, errOut := runCLI(t, "--log-level", "error", "--db", db, "analyze", "--save", path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	var rep report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.RunID == "" || rep.Cached {
		t.Fatalf("expected a fresh saved run, got %+v", rep)
	}

	code, out, _ = runCLI(t, "--log-level", "error", "--db", db, "analyze", "--cache", path)
	if code != 0 {
		t.Fatalf("cached analyze exit %d", code)
	}
	var cached report
	if err := json.Unmarshal([]byte(out), &cached); err != nil {
		t.Fatalf("decode cached report: %v", err)
	}
	if !cached.Cached || cached.RunID != rep.RunID {
		t.Fatalf("expected cached run %s, got %+v", rep.RunID, cached)
	}

	code, out, _ = runCLI(t, "--db", db, "history", "list", "--json")
	if code != 0 {
		t.Fatalf("history list exit %d", code)
	}
	var runs []store.Summary
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != rep.RunID || runs[0].Source != path {
		t.Fatalf("unexpected history %+v", runs)
	}

	code, out, _ = runCLI(t, "--db", db, "history", "show", rep.RunID, "-f", "text")
	if code != 0 || !strings.Contains(out, `"hello world"`) {
		t.Fatalf("history show exit %d:\n%s", code, out)
	}

	if code, _, _ = runCLI(t, "--db", db, "history", "show", "missing"); code != 2 {
		t.Fatalf("unknown run should exit 2, got %d", code)
	}
}

func TestDecode(t *testing.T) {
	dir := isolate(t)
	path := writeBlob(t, dir, hiddenBlob())

	code, out, errOut := runCLI(t, "decode", path, "--offset", "2", "--length", "6", "-t", "xor_20")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.HasPrefix(out, `"secret"`) || !strings.Contains(out, "looks_like_text=true") {
		t.Fatalf("unexpected decode output %q", out)
	}

	if code, _, _ := runCLI(t, "decode", path, "--offset", "8", "--length", "6"); code != 2 {
		t.Fatalf("out of range span should exit 2, got %d", code)
	}
	if code, _, _ := runCLI(t, "decode", path, "--offset", "2", "--length", "6", "-t", "nope"); code != 2 {
		t.Fatalf("unknown transform should exit 2, got %d", code)
	}
}

func TestTransforms(t *testing.T) {
	isolate(t)
	code, out, _ := runCLI(t, "transforms", "--family", "xor")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(out, "xor_20") || strings.Contains(out, "rot13") {
		t.Fatalf("unexpected family listing:\n%s", out)
	}

	code, out, _ = runCLI(t, "transforms", "--family", "shift", "--json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	var shifts []map[string]string
	if err := json.Unmarshal([]byte(out), &shifts); err != nil {
		t.Fatalf("decode shift family: %v", err)
	}
	var shiftNames []string
	for _, info := range shifts {
		shiftNames = append(shiftNames, info["name"])
	}
	wantShift := []string{"add-7", "add-6", "add-5", "add-4", "add-3", "add-2", "add-1", "add1", "add2", "add3", "add4", "add5", "add6", "add7"}
	if strings.Join(shiftNames, ",") != strings.Join(wantShift, ",") {
		t.Fatalf("shift family not in bank order: %v", shiftNames)
	}

	if code, _, errOut := runCLI(t, "transforms", "--family", "nope"); code != 2 || !strings.Contains(errOut, "unknown transform family") {
		t.Fatalf("expected usage error for unknown family, got %d: %s", code, errOut)
	}

	code, out, _ = runCLI(t, "transforms", "--json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	var infos []map[string]string
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("decode transforms: %v", err)
	}
	if len(infos) == 0 || infos[0]["name"] == "" {
		t.Fatalf("unexpected transforms %v", infos)
	}
}

func TestRemote(t *testing.T) {
	dir := isolate(t)
	path := writeBlob(t, dir, hiddenBlob())

	srv, err := service.NewServer("remote-token", extract.DefaultOptions())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	grpcSrv := srv.Register()
	go func() { _ = grpcSrv.Serve(lis) }()
	defer grpcSrv.Stop()

	code, out, errOut := runCLI(t, "remote", "--addr", lis.Addr().String(), "--token", "remote-token", path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, `"secret"`) {
		t.Fatalf("remote output missing recovered string:\n%s", out)
	}

	code, _, errOut = runCLI(t, "remote", "--addr", lis.Addr().String(), "--token", "bad", path)
	if code != 1 || !strings.Contains(errOut, "Unauthenticated") {
		t.Fatalf("bad token: exit %d, stderr %q", code, errOut)
	}
}

func TestUsageErrors(t *testing.T) {
	isolate(t)
	if code, _, _ := runCLI(t); code == 0 {
		t.Fatalf("missing command should fail")
	}
	if code, _, _ := runCLI(t, "analyze", "x", "-f", "xml"); code != 2 {
		t.Fatalf("bad enum should exit 2")
	}
	if code, _, _ := runCLI(t, "analyze", "does-not-exist.bin"); code != 1 {
		t.Fatalf("missing input should exit 1")
	}
}

func TestVersion(t *testing.T) {
	isolate(t)
	code, out, _ := runCLI(t, "version")
	if code != 0 || strings.TrimSpace(out) != version {
		t.Fatalf("version exit %d output %q", code, out)
	}
}
