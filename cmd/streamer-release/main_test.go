package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/omer-dayan/runai-model-streamer/pkg/publish"
)

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"streamer-release"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "USAGE") {
		t.Errorf("usage not printed: %q", errOut.String())
	}
}

func TestRun_Help(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"streamer-release", "help"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(out.String(), "streamer-release: native library build and publish pipeline") {
		t.Errorf("banner missing or reworded: %q", out.String())
	}
	for _, cmd := range []string{"build", "package", "release", "rollback", "ledger"} {
		if !strings.Contains(out.String(), cmd) {
			t.Errorf("help missing command %q", cmd)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"streamer-release", "frobnicate"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "Unknown command") {
		t.Errorf("unexpected stderr: %q", errOut.String())
	}
}

func rec(id string, status publish.RecordStatus) publish.Record {
	return publish.Record{
		ID:       id,
		Version:  "1.0.0",
		Platform: "linux/x86_64",
		Status:   status,
	}
}

func TestVerifyHistory(t *testing.T) {
	tests := []struct {
		name string
		recs []publish.Record
		want int // problem count
	}{
		{"empty", nil, 0},
		{"live then yank", []publish.Record{rec("a", publish.StatusLive), rec("b", publish.StatusYanked)}, 0},
		{"yank without live", []publish.Record{rec("a", publish.StatusYanked)}, 1},
		{"duplicate id", []publish.Record{rec("a", publish.StatusLive), rec("a", publish.StatusLive)}, 1},
		{"double yank", []publish.Record{rec("a", publish.StatusLive), rec("b", publish.StatusYanked), rec("c", publish.StatusYanked)}, 1},
		{"missing id", []publish.Record{rec("", publish.StatusLive)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems := verifyHistory(tt.recs)
			if len(problems) != tt.want {
				t.Errorf("got %d problems %v, want %d", len(problems), problems, tt.want)
			}
		})
	}
}
