// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is a thin package-level wrapper around zap, mirroring the
// call shape used throughout the rest of this tree: log.Debug/Info/Warn/
// Error with zap.Field options, backed by one process-wide *zap.Logger
// built from a Config.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the process-wide logger. Level is one of
// debug/info/warn/error. Format is "console" or "json". File, if set,
// additionally writes to that path; stdout is always written to so
// progress lines remain visible in the CLI.
type Config struct {
	Level  string
	Format string
	File   string
}

var (
	mu     sync.Mutex
	global = zap.NewNop()
)

// Init builds the process-wide logger from cfg. Safe to call once at
// startup; later calls replace the logger.
func Init(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return err
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "ts"

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(zapcore.AddSync(zapStdout))}
	if cfg.File != "" {
		f, err := openLogFile(cfg.File)
		if err != nil {
			return err
		}
		sinks = append(sinks, zapcore.AddSync(f))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	logger := zap.New(core, zap.AddCaller())

	mu.Lock()
	global = logger
	mu.Unlock()
	return nil
}

func logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return global
}

func Debug(msg string, fields ...zap.Field) { logger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { logger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { logger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { logger().Error(msg, fields...) }

// Sync flushes any buffered log entries. Call before process exit.
func Sync() error { return logger().Sync() }
