package deps_test

import (
	"path/filepath"
	"testing"

	"casiel/internal/deps"
	"casiel/internal/testsupport"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	testsupport.WriteScript(t, present, "exit 0\n")
	script := filepath.Join(binDir, "audio.py")
	testsupport.WriteFile(t, script, 10)

	reqs := []deps.Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Script", Command: script, File: true},
		{Name: "No script", Command: filepath.Join(binDir, "gone.py"), File: true},
		{Name: "Dir", Command: binDir, File: true},
		{Name: "Blank", Command: "  "},
	}

	results := deps.CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	want := []bool{true, false, true, false, false, false}
	for i, ok := range want {
		if results[i].Available != ok {
			t.Fatalf("%s: available=%v, want %v (%s)", results[i].Name, results[i].Available, ok, results[i].Detail)
		}
		if !ok && results[i].Detail == "" {
			t.Fatalf("%s: expected detail message", results[i].Name)
		}
	}
	if results[0].Resolved != present || results[0].Detail != "" {
		t.Fatalf("unexpected status for present binary: %#v", results[0])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
}

func TestRequirementsFollowStrategy(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	cfg.HTTP.Strategy = "native"
	if hasCurl(deps.Requirements(cfg)) != nil {
		t.Fatal("native strategy must not require curl")
	}

	cfg.HTTP.Strategy = "curl"
	if req := hasCurl(deps.Requirements(cfg)); req == nil || req.Optional {
		t.Fatalf("curl strategy must require curl, got %#v", req)
	}

	cfg.HTTP.Strategy = "auto"
	if req := hasCurl(deps.Requirements(cfg)); req == nil || !req.Optional {
		t.Fatalf("auto strategy lists curl as optional, got %#v", req)
	}
}

func TestMissingRequired(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubbedBinaries("python3", "ffmpeg"),
		testsupport.WithAnalysisScript(),
	)
	cfg.HTTP.Strategy = "auto"
	cfg.HTTP.CurlBinary = "clearly-not-present-curl"

	missing := deps.MissingRequired(deps.CheckBinaries(deps.Requirements(cfg)))
	if len(missing) != 0 {
		t.Fatalf("expected only optional gaps, got %#v", missing)
	}

	cfg.Analysis.FFmpeg = "clearly-not-present-ffmpeg"
	missing = deps.MissingRequired(deps.CheckBinaries(deps.Requirements(cfg)))
	if len(missing) != 1 || missing[0].Name != "FFmpeg" {
		t.Fatalf("expected ffmpeg missing, got %#v", missing)
	}
}

func hasCurl(reqs []deps.Requirement) *deps.Requirement {
	for i := range reqs {
		if reqs[i].Name == "curl" {
			return &reqs[i]
		}
	}
	return nil
}
