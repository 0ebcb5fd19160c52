package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ArtaPay/artapay-sc/internal/config"
)

func TestNew_Levels(t *testing.T) {
	cases := []struct {
		level   string
		wantErr bool
	}{
		{"", false},
		{"debug", false},
		{"warn", false},
		{"loud", true},
	}
	for _, tc := range cases {
		_, err := New(config.LogConfig{Level: tc.level})
		if (err != nil) != tc.wantErr {
			t.Errorf("level %q: got err %v, wantErr %v", tc.level, err, tc.wantErr)
		}
	}
}

func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlementd.log")
	log, err := New(config.LogConfig{Level: "info", File: path})
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("hidden")
	log.Info("settlement indexed")
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"settlement indexed"`) {
		t.Errorf("log file missing entry: %s", raw)
	}
	if strings.Contains(string(raw), "hidden") {
		t.Errorf("debug entry written at info level: %s", raw)
	}
}
