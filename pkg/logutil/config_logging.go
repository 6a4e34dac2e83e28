/*
Copyright 2025 The maco Authors

This program is offered under a commercial and under the AGPL license.
For AGPL licensing, see below.

AGPL licensing:
This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package logutil

import (
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrLogRotationInvalidLogOutput = fmt.Errorf("--log-outputs requires a single file path when --log-rotate-config-json is defined")

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogOutput = "default"
	StdErrLogOutput  = "stderr"
	StdOutLogOutput  = "stdout"
)

// ConvertToZapLevel converts log level string to zapcore.Level.
func ConvertToZapLevel(lvl string) zapcore.Level {
	var level zapcore.Level
	if err := level.Set(lvl); err != nil {
		panic(err)
	}
	return level
}

type LogConfig struct {
	// Level configures log level. Only supports debug, info, warn, error, panic, or fatal. Default 'info'.
	Level string `json:"level" toml:"level"`
	// Format configures log format. Only supports json, console
	Format string `json:"format" toml:"format"`
	// LogOutputs is either:
	//  - "default" as os.Stderr,
	//  - "stderr" as os.Stderr,
	//  - "stdout" as os.Stdout,
	//  - file path to append server logs to.
	// It can be multiple when "Logger" is zap.
	Outputs []string `json:"outputs" toml:"outputs"`
	// Rotation is a passthrough allowing a log rotation JSON config to be passed directly.
	Rotation *LogRotationConfig `json:"rotation" toml:"rotation"`
	// ZapLoggerBuilder is used to build the zap logger.
	ZapLoggerBuilder func(*LogConfig) error `json:"-" toml:"-"`

	// logger logs server-side operations. The default is nil,
	// and "SetupLogging" must be called before starting server.
	// Do not set logger directly.
	loggerMu *sync.RWMutex
	logger   *zap.Logger
}

// LogRotationConfig Log rotation is disabled by default.
// MaxSize:	100 // MB
// MaxAge: 0 // days (no limit)
// MaxBackups: 0 // no limit
// LocalTime: false // use computers local time, UTC by default
// Compress: false // compress the rotated log in gzip format
type LogRotationConfig struct {
	MaxSize    int  `json:"max-size" toml:"max-size"`
	MaxAge     int  `json:"max-age" toml:"max-age"`
	MaxBackups int  `json:"max-backups" toml:"max-backups"`
	LocalTime  bool `json:"localtime" toml:"localtime"`
	Compress   bool `json:"compress" toml:"compress"`
}

func NewLogConfig() LogConfig {
	return LogConfig{
		Level:    DefaultLogLevel,
		Format:   DefaultLogFormat,
		Outputs:  []string{DefaultLogOutput},
		loggerMu: new(sync.RWMutex),
		logger:   zap.NewNop(),
	}
}

// GetLogger returns the logger.
func (cfg LogConfig) GetLogger() *zap.Logger {
	cfg.loggerMu.RLock()
	l := cfg.logger
	cfg.loggerMu.RUnlock()
	return l
}

func defaultEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}

// SetupLogging initializes logging.
// Must be called after flag parsing or finishing configuring LogConfig.
func (cfg *LogConfig) SetupLogging() error {
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = []string{DefaultLogOutput}
	}
	if len(cfg.Outputs) > 1 {
		for _, v := range cfg.Outputs {
			if v == DefaultLogOutput {
				return fmt.Errorf("multi logoutput for %q is not supported yet", DefaultLogOutput)
			}
		}
	}
	enableRotation := false
	if cfg.Rotation != nil {
		enableRotation = true
		if err := setupLogRotation(cfg.Outputs, cfg.Rotation); err != nil {
			return err
		}
	}

	var logFormat string
	switch cfg.Format {
	case "json":
		logFormat = "json"
	case "console", "text":
		logFormat = "console"
	default:
		logFormat = DefaultLogFormat
	}

	outputPaths, errOutputPaths := make([]string, 0), make([]string, 0)
	for _, v := range cfg.Outputs {
		switch v {
		case DefaultLogOutput:
			outputPaths = append(outputPaths, StdErrLogOutput)
			errOutputPaths = append(errOutputPaths, StdErrLogOutput)

		case StdErrLogOutput:
			outputPaths = append(outputPaths, StdErrLogOutput)
			errOutputPaths = append(errOutputPaths, StdErrLogOutput)

		case StdOutLogOutput:
			outputPaths = append(outputPaths, StdOutLogOutput)
			errOutputPaths = append(errOutputPaths, StdOutLogOutput)

		default:
			var path string
			if enableRotation {
				// append rotate scheme to logs managed by lumberjack log rotation
				if v[0:1] == "/" {
					path = fmt.Sprintf("rotate:/%%2F%s", v[1:])
				} else {
					path = fmt.Sprintf("rotate:/%s", v)
				}
			} else {
				path = v
			}
			outputPaths = append(outputPaths, path)
			errOutputPaths = append(errOutputPaths, path)
		}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(ConvertToZapLevel(cfg.Level)),
		Development:      false,
		Encoding:         logFormat,
		EncoderConfig:    defaultEncoderConfig(),
		OutputPaths:      outputPaths,
		ErrorOutputPaths: errOutputPaths,
	}

	if cfg.ZapLoggerBuilder == nil {
		lg, err := zapCfg.Build(zap.AddStacktrace(zapcore.FatalLevel))
		if err != nil {
			return err
		}
		cfg.ZapLoggerBuilder = NewZapLoggerBuilder(lg)
	}

	return cfg.ZapLoggerBuilder(cfg)
}

// NewZapLoggerBuilder generates a zap logger builder that sets given logger.
func NewZapLoggerBuilder(lg *zap.Logger) func(*LogConfig) error {
	return func(cfg *LogConfig) error {
		cfg.loggerMu.Lock()
		defer cfg.loggerMu.Unlock()
		cfg.logger = lg
		return nil
	}
}

// SetupGlobalLoggers installs cfg's logger as the zap global logger, so
// packages that call zap.L()/zap.S() pick it up without a reference
// being threaded through.
func (cfg *LogConfig) SetupGlobalLoggers() {
	if lg := cfg.GetLogger(); lg != nil {
		zap.ReplaceGlobals(lg)
	}
}

type logRotationConfig struct {
	*lumberjack.Logger
}

// Sync implements zap.Sink
func (logRotationConfig) Sync() error { return nil }

// setupLogRotation initializes log rotation for a single file path target.
func setupLogRotation(logOutputs []string, rotation *LogRotationConfig) error {
	jack := &lumberjack.Logger{
		MaxSize:    rotation.MaxSize,
		MaxAge:     rotation.MaxAge,
		MaxBackups: rotation.MaxBackups,
		LocalTime:  rotation.LocalTime,
		Compress:   rotation.Compress,
	}
	lr := logRotationConfig{Logger: jack}
	outputFilePaths := 0
	for _, v := range logOutputs {
		switch v {
		case DefaultLogOutput, StdErrLogOutput, StdOutLogOutput:
			continue
		default:
			outputFilePaths++
		}
	}
	// log rotation requires file target
	if len(logOutputs) == 1 && outputFilePaths == 0 {
		return ErrLogRotationInvalidLogOutput
	}
	// support max 1 file target for log rotation
	if outputFilePaths > 1 {
		return ErrLogRotationInvalidLogOutput
	}

	zap.RegisterSink("rotate", func(u *url.URL) (zap.Sink, error) {
		lr.Filename = u.Path[1:]
		return &lr, nil
	})
	return nil
}
