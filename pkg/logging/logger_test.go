package logging

import "testing"

func TestZapLogger_Levels(t *testing.T) {
	logger, err := NewZapLogger("DEBUG")
	if err != nil {
		t.Fatalf("zap logger creation failed: %v", err)
	}

	logger.Info("engine starting", "pair", "BTC_USDT")
	logger.WithField("component", "accountant").Debug("recalculated funds")
	logger.WithFields(map[string]interface{}{"side": "buy", "drift": 5}).Warn("drift detected")

	if err := logger.Sync(); err != nil {
		// stdout sync commonly fails on some platforms; not a test failure.
		t.Logf("sync returned: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": DebugLevel,
		"INFO":  InfoLevel,
		"warn":  WarnLevel,
		"Error": ErrorLevel,
		"FATAL": FatalLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLevel("bogus"); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	l = l.WithField("k", "v")
	l = l.WithFields(map[string]interface{}{"a": 1})
	l.Info("noop")
}
