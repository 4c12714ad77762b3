// Package observability contains logging setup for nodecore
// (SPEC_FULL.md §1 ambient stack), grounded on the teacher's
// zap+lumberjack logger.go for the level/encoder/rotation wiring, and
// extended with a level-count sink and a packet-aware log field so
// nodecore's own domain — packet ids and session/dispatcher traffic
// volume — flows through the logging layer instead of stopping at
// generic zap setup.
package observability

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"nodecore/pkg/config"
	"nodecore/pkg/packet"
)

// Counters tallies how many records nodecore has logged at each
// level. SetupLogger wires one into every core it builds, so an
// embedder can poll session/dispatcher/handshake log volume (e.g. a
// spike in Warn from "adapter: delivered queue full") without
// scraping the log output itself.
type Counters struct {
	debug atomic.Int64
	info  atomic.Int64
	warn  atomic.Int64
	error atomic.Int64
}

func (c *Counters) observe(lvl zapcore.Level) {
	switch {
	case lvl < zapcore.InfoLevel:
		c.debug.Add(1)
	case lvl < zapcore.WarnLevel:
		c.info.Add(1)
	case lvl < zapcore.ErrorLevel:
		c.warn.Add(1)
	default:
		c.error.Add(1)
	}
}

// Snapshot returns the current per-level counts.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"debug": c.debug.Load(),
		"info":  c.info.Load(),
		"warn":  c.warn.Load(),
		"error": c.error.Load(),
	}
}

// countingCore decorates a zapcore.Core to tally every record it
// accepts into a shared Counters before delegating the write.
type countingCore struct {
	zapcore.Core
	counters *Counters
}

func (c *countingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Core.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *countingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	c.counters.observe(ent.Level)
	return c.Core.Write(ent, fields)
}

func (c *countingCore) With(fields []zapcore.Field) zapcore.Core {
	return &countingCore{Core: c.Core.With(fields), counters: c.counters}
}

// PacketField logs a packet id under its registered name
// (packet.Name) rather than the id's raw hex form, so a log line
// reads "id": "DHKeyExchangeResponse" instead of "id": "0x00010001" for
// every type nodecore's registry knows about.
func PacketField(env packet.Envelope) zap.Field {
	return zap.String("id", packet.Name(env.ID()))
}

// SetupLogger builds a zap.Logger from the provided configuration and
// sets it as the global logger. It also returns a Counters tallying
// every record the logger accepts, so an embedder gets a cheap
// activity signal for free. The caller should defer logger.Sync().
func SetupLogger(c config.LogConfig) (*zap.Logger, *Counters, error) {
	counters := &Counters{}

	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.Level) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}

	encCfg := defaultEncoderConfig(c.Development)
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var cores []zapcore.Core
	for _, out := range c.Outputs {
		var core zapcore.Core
		switch strings.ToLower(out) {
		case "stdout":
			core = zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
		case "stderr":
			core = zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)
		default:
			// Treat as a file path; use rotation only when enabled.
			var ws zapcore.WriteSyncer
			if c.Rotation.Enable {
				ws = zapcore.AddSync(&lumberjack.Logger{
					Filename:   chooseFilename(out, c),
					MaxSize:    max(c.Rotation.MaxSizeMB, 10),
					MaxBackups: max(c.Rotation.MaxBackups, 1),
					MaxAge:     max(c.Rotation.MaxAgeDays, 7),
					Compress:   c.Rotation.Compress,
				})
			} else {
				if dir := dirOf(out); dir != "" {
					_ = os.MkdirAll(dir, 0o755)
				}
				f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
				if err != nil {
					ws = zapcore.AddSync(os.Stderr)
				} else {
					ws = zapcore.AddSync(f)
				}
			}
			core = zapcore.NewCore(encoder, ws, level)
		}
		cores = append(cores, &countingCore{Core: core, counters: counters})
	}

	core := zapcore.NewTee(cores...)
	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	}
	if c.Development {
		opts = append(opts, zap.Development())
	}

	logger := zap.New(core, opts...)
	zap.ReplaceGlobals(logger)
	return logger, counters, nil
}

func defaultEncoderConfig(dev bool) zapcore.EncoderConfig {
	if dev {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}
	return zap.NewProductionEncoderConfig()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// chooseFilename returns the output filename. If rotation is enabled
// and a filename is provided in rotation config, prefer it; otherwise
// use out.
func chooseFilename(out string, c config.LogConfig) string {
	if c.Rotation.Enable && strings.TrimSpace(c.Rotation.Filename) != "" {
		return c.Rotation.Filename
	}
	return out
}

func dirOf(path string) string {
	i := strings.LastIndexAny(path, "/\\")
	if i <= 0 {
		return ""
	}
	return path[:i]
}
