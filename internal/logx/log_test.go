package logx_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kabir325/fogpool/internal/logx"
	"github.com/rs/zerolog"
)

func TestConfigureLogLevel(t *testing.T) {
	defer logx.Configure("info")

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"all", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" warning ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		logx.Configure(tt.in)
		if got := zerolog.GlobalLevel(); got != tt.want {
			t.Fatalf("Configure(%q): level %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestConfigureJSONOutput(t *testing.T) {
	defer logx.Configure("info")

	var buf bytes.Buffer
	logx.ConfigureOutput("debug", "JSON", &buf)
	logx.Log.Debug().Str("client_id", "edge-1").Msg("registered")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %q: %v", buf.String(), err)
	}
	if line["client_id"] != "edge-1" || line["message"] != "registered" || line["level"] != "debug" {
		t.Fatalf("unexpected entry %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Fatalf("missing timestamp in %v", line)
	}
}

func TestConfigureConsoleOutput(t *testing.T) {
	defer logx.Configure("info")

	var buf bytes.Buffer
	logx.ConfigureOutput("info", "", &buf)
	logx.Log.Debug().Msg("hidden")
	logx.Log.Info().Str("tier", "LARGE").Msg("assigned")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "assigned") || !strings.Contains(out, "tier=") {
		t.Fatalf("unexpected console output %q", out)
	}
}
