package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "json")

	log.Debug("hidden")
	log.Info("report created", "report_id", "r1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line should be filtered at info level")
	}
	if !strings.Contains(out, `"report_id":"r1"`) || !strings.Contains(out, `"service":"resq"`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug", "text").Debug("sweep", "requeued", 2)

	if !strings.Contains(buf.String(), "requeued=2") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}
