package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// clientAttrs mimics the client's provider before and after a nation claim.
func clientAttrs(nation, phase string) ContextProvider {
	return func() []slog.Attr {
		return []slog.Attr{slog.String("nation", nation), slog.String("phase", phase)}
	}
}

func TestSetup_Outputs(t *testing.T) {
	t.Run("file only", func(t *testing.T) {
		restore := captureStdout(t)
		var file bytes.Buffer
		m := NewSlogManager()
		m.Setup(&file, "info", nil)
		m.Logger().Info("joined game")

		assert.Contains(t, file.String(), "joined game")
		assert.Contains(t, file.String(), "Logging initialized")
		assert.Empty(t, restore(), "stdout stays quiet when a log file is given")
	})

	t.Run("stdout fallback", func(t *testing.T) {
		restore := captureStdout(t)
		m := NewSlogManager()
		m.Setup(nil, "info", nil)
		m.Logger().Info("joined game")

		assert.Contains(t, restore(), "joined game")
	})

	t.Run("with otel bridge", func(t *testing.T) {
		var file bytes.Buffer
		m := NewSlogManager()
		m.Setup(&file, "info", sdklog.NewLoggerProvider())
		m.Logger().Info("joined game")

		assert.Contains(t, file.String(), "joined game")
		assert.NoError(t, m.Flush(context.Background()))
	})
}

func TestSetup_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantWarn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
		{"bogus", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(&buf, tt.level, nil)
			m.Logger().Debug("tick sample")
			m.Logger().Warn("reconnect dial failed")

			assert.Equal(t, tt.wantDebug, strings.Contains(buf.String(), "tick sample"))
			assert.Equal(t, tt.wantWarn, strings.Contains(buf.String(), "reconnect dial failed"))
		})
	}
}

func TestSetup_RerunSwitchesFile(t *testing.T) {
	var before, after bytes.Buffer
	m := NewSlogManager()

	m.Setup(&before, "info", nil)
	m.Logger().Info("handshake")
	m.Setup(&after, "info", nil)
	m.Logger().Info("joined")

	assert.Contains(t, before.String(), "handshake")
	assert.NotContains(t, before.String(), "joined")
	assert.Contains(t, after.String(), "joined")
}

func TestSetup_ContextProvider(t *testing.T) {
	t.Run("adds client attrs", func(t *testing.T) {
		var buf bytes.Buffer
		m := NewSlogManager()
		m.SetContextProvider(clientAttrs("France", "joined"))
		m.Setup(&buf, "info", nil)

		m.Logger().Info("launch requested")
		assert.Contains(t, buf.String(), "nation=France")
		assert.Contains(t, buf.String(), "phase=joined")
	})

	t.Run("skips unclaimed nation", func(t *testing.T) {
		var buf bytes.Buffer
		m := NewSlogManager()
		m.SetContextProvider(clientAttrs("", "handshaking"))
		m.Setup(&buf, "info", nil)

		m.Logger().Info("handshake started")
		assert.NotContains(t, buf.String(), "nation=")
		assert.Contains(t, buf.String(), "phase=handshaking")
	})

	t.Run("record attrs win", func(t *testing.T) {
		var buf bytes.Buffer
		m := NewSlogManager()
		m.SetContextProvider(clientAttrs("France", "joined"))
		m.Setup(&buf, "info", nil)

		m.Logger().Info("Joined", "nation", "Egypt")
		assert.Equal(t, 1, strings.Count(buf.String(), "nation="))
		assert.Contains(t, buf.String(), "nation=Egypt")
	})

	t.Run("bound attrs win", func(t *testing.T) {
		var buf bytes.Buffer
		m := NewSlogManager()
		m.SetContextProvider(clientAttrs("France", "joined"))
		m.Setup(&buf, "info", nil)

		m.Logger().With("phase", "torn-down").Info("Connection torn down")
		assert.Equal(t, 1, strings.Count(buf.String(), "phase="))
		assert.Contains(t, buf.String(), "phase=torn-down")
	})
}

func TestContextHandler_ProviderCalledPerRecord(t *testing.T) {
	var buf bytes.Buffer
	phase := "handshaking"
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		return []slog.Attr{slog.String("phase", phase)}
	})
	logger := slog.New(h)

	logger.Info("first")
	phase = "joined"
	logger.Info("second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "phase=handshaking")
	assert.Contains(t, lines[1], "phase=joined")
}

func TestContextHandler_GroupAndNilProvider(t *testing.T) {
	var buf bytes.Buffer
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), nil)
	assert.Equal(t, slog.Handler(h), h.WithGroup(""))

	slog.New(h.WithGroup("missile")).Info("impact", "id", 3)
	assert.Contains(t, buf.String(), "missile.id=3")
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	assert.Equal(t, slog.Default(), NewSlogManager().Logger())
	assert.NoError(t, NewSlogManager().Flush(context.Background()))
}

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "DEBUG": slog.LevelDebug,
		"info": slog.LevelInfo, "Warn": slog.LevelWarn,
		"ERROR": slog.LevelError, "": slog.LevelInfo, "trace": slog.LevelInfo,
	} {
		assert.Equal(t, want, parseLevel(input), input)
	}
}

// failingHandler accepts every record and fails to write it.
type failingHandler struct {
	slog.Handler
}

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("otel exporter down")
}

func TestMultiHandler(t *testing.T) {
	t.Run("fans out and drops nil", func(t *testing.T) {
		var a, b bytes.Buffer
		multi := NewMultiHandler(nil, slog.NewTextHandler(&a, nil), slog.NewTextHandler(&b, nil))
		require.Len(t, multi.handlers, 2)

		slog.New(multi).Info("missile launched")
		assert.Contains(t, a.String(), "missile launched")
		assert.Contains(t, b.String(), "missile launched")
	})

	t.Run("per handler level", func(t *testing.T) {
		var info, debug bytes.Buffer
		multi := NewMultiHandler(
			slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
			slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
		assert.True(t, multi.Enabled(context.Background(), slog.LevelDebug))
		assert.False(t, NewMultiHandler().Enabled(context.Background(), slog.LevelError))

		slog.New(multi).Debug("sample appended")
		assert.Empty(t, info.String())
		assert.Contains(t, debug.String(), "sample appended")
	})

	t.Run("failure reaches remaining handlers", func(t *testing.T) {
		var buf bytes.Buffer
		multi := NewMultiHandler(failingHandler{}, slog.NewTextHandler(&buf, nil))

		r := slog.NewRecord(time.Now(), slog.LevelInfo, "state persisted", 0)
		err := multi.Handle(context.Background(), r)
		assert.ErrorContains(t, err, "otel exporter down")
		assert.Contains(t, buf.String(), "state persisted")
	})

	t.Run("attrs and groups", func(t *testing.T) {
		var buf bytes.Buffer
		multi := NewMultiHandler(slog.NewTextHandler(&buf, nil))
		assert.Equal(t, slog.Handler(multi), multi.WithGroup(""))

		slog.New(multi.WithAttrs([]slog.Attr{slog.String("component", "monitor")}).WithGroup("cycle")).Info("done", "n", 2)
		assert.Contains(t, buf.String(), "component=monitor")
		assert.Contains(t, buf.String(), "cycle.n=2")
	})
}

// captureStdout redirects console output to a pipe and returns a function
// that restores it and returns what was captured.
func captureStdout(t *testing.T) func() string {
	t.Helper()

	r, w, err := osPipe()
	require.NoError(t, err)

	orig := osStdout
	osStdout = w

	return func() string {
		w.Close()
		osStdout = orig
		var buf bytes.Buffer
		buf.ReadFrom(r)
		r.Close()
		return buf.String()
	}
}
