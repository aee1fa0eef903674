package trace

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func TestNewTracer(t *testing.T) {
	tracer := NewTracer("TEST", LogLevelNormal)
	if tracer.Prefix() != "TEST" {
		t.Errorf("Expected prefix 'TEST', got '%s'", tracer.Prefix())
	}
	if tracer.Level() != LogLevelNormal {
		t.Errorf("Expected level LogLevelNormal, got %v", tracer.Level())
	}
	if tracer.IsVerbose() {
		t.Errorf("Expected IsVerbose()=false for normal tracer")
	}

	tracer = NewTracer("DEBUG", LogLevelVerbose)
	if !tracer.IsVerbose() {
		t.Errorf("Expected IsVerbose()=true for verbose tracer")
	}
}

func TestFromContext(t *testing.T) {
	tracer := NewTracer("TEST", LogLevelNormal)
	ctx := WithContext(context.Background(), tracer)

	if extracted := FromContext(ctx); extracted != tracer {
		t.Errorf("Expected FromContext to return the tracer we put in")
	}

	defaultTracer := FromContext(context.Background())
	if defaultTracer == nil {
		t.Fatalf("Expected a default tracer, got nil")
	}
	if defaultTracer.Prefix() != "" {
		t.Errorf("Expected empty prefix for default tracer, got '%s'", defaultTracer.Prefix())
	}
	if defaultTracer.Level() != LogLevelNormal {
		t.Errorf("Expected LogLevelNormal for default tracer, got %v", defaultTracer.Level())
	}
}

func TestSetVerbose(t *testing.T) {
	tracer := NewTracer("TEST", LogLevelNormal)
	tracer.SetVerbose(true)
	if tracer.Level() != LogLevelVerbose {
		t.Errorf("Expected LogLevelVerbose after SetVerbose(true), got %v", tracer.Level())
	}
	tracer.SetVerbose(false)
	if tracer.Level() != LogLevelNormal {
		t.Errorf("Expected LogLevelNormal after SetVerbose(false), got %v", tracer.Level())
	}
}

func TestInfof(t *testing.T) {
	buf := captureLog(t)

	NewTracer("TEST", LogLevelNormal).Infof("Test message %d", 123)
	if !strings.Contains(buf.String(), "TEST: Test message 123") {
		t.Errorf("Expected 'TEST: Test message 123', got '%s'", buf.String())
	}

	buf.Reset()
	NewTracer("", LogLevelNormal).Infof("Plain message %d", 456)
	output := buf.String()
	if !strings.Contains(output, "Plain message 456") {
		t.Errorf("Expected 'Plain message 456', got '%s'", output)
	}
	if strings.Contains(output, ": Plain message") {
		t.Errorf("Expected no prefix in log output, got '%s'", output)
	}
}

func TestDebugfAndTracef(t *testing.T) {
	buf := captureLog(t)

	tracer := NewTracer("TEST", LogLevelNormal)
	tracer.Debugf("Debug message %d", 123)
	tracer.Tracef("Trace message %d", 123)
	if buf.String() != "" {
		t.Errorf("Expected no output at normal level, got '%s'", buf.String())
	}

	tracer = NewTracer("TEST", LogLevelVerbose)
	tracer.Debugf("Debug message %d", 456)
	tracer.Tracef("Trace message %d", 456)
	output := buf.String()
	if !strings.Contains(output, "TEST: Debug message 456") {
		t.Errorf("Expected debug output, got '%s'", output)
	}
	if strings.Contains(output, "Trace message") {
		t.Errorf("Expected trace output to be suppressed at verbose level, got '%s'", output)
	}

	buf.Reset()
	NewTracer("TEST", LogLevelTrace).Tracef("Trace message %d", 789)
	if !strings.Contains(buf.String(), "TEST TRACE: Trace message 789") {
		t.Errorf("Expected trace output, got '%s'", buf.String())
	}
}

func TestError(t *testing.T) {
	buf := captureLog(t)
	err := errors.New("test error")

	NewTracer("TEST", LogLevelNormal).Error(err)
	if !strings.Contains(buf.String(), "TEST ERROR: test error") {
		t.Errorf("Expected 'TEST ERROR: test error', got '%s'", buf.String())
	}

	buf.Reset()
	NewTracer("", LogLevelNormal).Error(err)
	if !strings.Contains(buf.String(), "ERROR: test error") {
		t.Errorf("Expected 'ERROR: test error', got '%s'", buf.String())
	}
}

func TestSink(t *testing.T) {
	captureLog(t)

	var lines []string
	tracer := NewTracer("ROOT", LogLevelVerbose).WithSink(func(line string) {
		lines = append(lines, line)
	})
	tracer.Infof("one")
	tracer.WithPrefix("CHILD").Debugf("two")
	tracer.Error(errors.New("three"))
	tracer.WithSink(nil).Infof("dropped")

	want := []string{"ROOT: one", "CHILD: two", "ROOT ERROR: three"}
	if len(lines) != len(want) {
		t.Fatalf("Expected %d sink lines, got %d: %q", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("Line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestWithPrefix(t *testing.T) {
	original := NewTracer("ORIG", LogLevelVerbose)
	child := original.WithPrefix("CHILD")

	if child.Prefix() != "CHILD" {
		t.Errorf("Expected prefix 'CHILD', got '%s'", child.Prefix())
	}
	if child.Level() != LogLevelVerbose {
		t.Errorf("Expected child to inherit LogLevelVerbose, got %v", child.Level())
	}
	if original.Prefix() != "ORIG" {
		t.Errorf("Expected original prefix to remain 'ORIG', got '%s'", original.Prefix())
	}
}
