package log

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestFileLineLogging(t *testing.T) {
	var buf bytes.Buffer
	origLogger.Out = &buf
	origLogger.Formatter = &logrus.TextFormatter{
		DisableColors: true,
	}

	// The default logging level should be "info".
	Debugln("This debug-level line should not show up in the output.")
	Infof("This %s-level line should show up in the output.", "info")

	re := `^time=".*" level=info msg="This info-level line should show up in the output."\n$`
	if !regexp.MustCompile(re).Match(buf.Bytes()) {
		t.Fatalf("%q did not match expected regex %q", buf.String(), re)
	}
}

func TestNewFileLogger(t *testing.T) {
	dir, err := ioutil.TempDir("", "capport_log")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ref := time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC)
	fl, err := NewFileLogger(Config{Name: "default", Level: "info", OutputPathPrefix: "cp_"}, dir, "nhl", ref)
	if err != nil {
		t.Fatalf("NewFileLogger failed, %s", err)
	}

	wantPath := filepath.Join(dir, "cp_nhl_20240309_150405.log")
	if fl.Path != wantPath {
		t.Errorf("wrong log path, expected %s, got %s", wantPath, fl.Path)
	}

	fl.Infoln("hello from the pipeline")
	fl.Debugln("should be filtered at info level")
	if err := fl.Close(); err != nil {
		t.Fatalf("Close failed, %s", err)
	}

	data, err := ioutil.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("unable to read log file, %s", err)
	}
	if !strings.Contains(string(data), "hello from the pipeline") {
		t.Errorf("log file missing info line, got %q", string(data))
	}
	if strings.Contains(string(data), "should be filtered") {
		t.Errorf("debug line should have been filtered, got %q", string(data))
	}
}

func TestFileLoggerAbsolutePrefix(t *testing.T) {
	dir, err := ioutil.TempDir("", "capport_log_abs")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ref := time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC)
	fl, err := NewFileLogger(Config{OutputPathPrefix: filepath.Join(dir, "abs_")}, "/nonexistent", "p", ref)
	if err != nil {
		t.Fatalf("NewFileLogger failed, %s", err)
	}
	defer fl.Close()

	if !strings.HasPrefix(fl.Path, dir) {
		t.Errorf("absolute prefix should override the output dir, got %s", fl.Path)
	}
}
