package logger

import (
	"github.com/sirupsen/logrus"
	"testing"
)

func TestNewSetsTraceLevel(t *testing.T) {
	l := New(true).(*entry)
	if l.e.Logger.GetLevel() != logrus.TraceLevel {
		t.Fatalf("level = %v, want TraceLevel", l.e.Logger.GetLevel())
	}
}

func TestNewDefaultsToInfoLevel(t *testing.T) {
	l := New(false).(*entry)
	if l.e.Logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level = %v, want InfoLevel", l.e.Logger.GetLevel())
	}
}

func TestSetLevelTogglesRuntimeVerbosity(t *testing.T) {
	l := New(false)
	SetLevel(l, true)
	if l.(*entry).e.Logger.GetLevel() != logrus.TraceLevel {
		t.Fatal("expected SetLevel(true) to raise level to TraceLevel")
	}
	SetLevel(l, false)
	if l.(*entry).e.Logger.GetLevel() != logrus.InfoLevel {
		t.Fatal("expected SetLevel(false) to lower level back to InfoLevel")
	}
}

func TestWithFieldReturnsIndependentLogger(t *testing.T) {
	base := New(false)
	withField := base.WithField("zone", "default")
	if withField == nil {
		t.Fatal("expected non-nil logger")
	}
}
