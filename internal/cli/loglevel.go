package cli

import (
	"errors"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

var errUnknownLevel = errors.New("unknown log level; supported levels are debug, info, warn, error")

type levelValue zapcore.Level

func (l *levelValue) String() string {
	return zapcore.Level(*l).String()
}

func (l *levelValue) Set(s string) error {
	var level zapcore.Level
	if err := level.Set(s); err != nil {
		return errUnknownLevel
	}

	*l = levelValue(level)

	return nil
}

func (l *levelValue) Type() string {
	return "Log-Level"
}

// LevelVar defines a zapcore.Level flag and stores its value in p.
func LevelVar(fs *pflag.FlagSet, p *zapcore.Level, name string, value zapcore.Level, usage string) {
	*p = value
	fs.Var((*levelValue)(p), name, usage)
}
