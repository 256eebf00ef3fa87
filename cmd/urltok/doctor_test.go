package main

import (
	"strings"
	"testing"

	"github.com/example/go-urltok/internal/config"
	"github.com/example/go-urltok/internal/doctor"
	"github.com/example/go-urltok/internal/testutil"
)

func TestDoctor_Passes(t *testing.T) {
	out, err := execute(t, nil, "doctor", "--skip-listen")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	if !strings.Contains(out, "doctor checks passed") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "listen address") {
		t.Errorf("--skip-listen should skip the listen check:\n%s", out)
	}
}

func TestDoctor_FreeListenAddress(t *testing.T) {
	addr := testutil.FreeAddr(t)

	out, err := execute(t, nil, "--server-listen-addr", addr, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	if !strings.Contains(out, "listen address: "+addr) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestDoctor_MissingStopWordsFileFails(t *testing.T) {
	out, err := execute(t, nil, "--tokenizer-stopwords-file", "/nonexistent/stop.txt", "doctor", "--skip-listen")
	if err == nil {
		t.Fatal("expected doctor to fail")
	}
	if !strings.Contains(out, doctor.FailMark+" stop words /nonexistent/stop.txt") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestDoctorConfig_StopWordsFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tokenizer.StopWordsFile = testutil.WriteFile(t, "stop.txt", "www\nhtml\n")

	var out strings.Builder
	result := doctor.Run(doctorConfig(cfg, true), &out)

	if result.Failed() {
		t.Fatalf("unexpected failures: %v", result.Failures())
	}
	if !strings.Contains(out.String(), "(2 words)") {
		t.Errorf("expected stop word count in output:\n%s", out.String())
	}
}

func TestStopWordsSource(t *testing.T) {
	if got := stopWordsSource(config.TokenizerConfig{StopWords: "english"}); got != "english" {
		t.Errorf("got %q, want english", got)
	}
	if got := stopWordsSource(config.TokenizerConfig{StopWords: "english", StopWordsFile: "/x"}); got != "/x" {
		t.Errorf("got %q, want /x", got)
	}
}
