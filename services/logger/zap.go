package logsvc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/user"
)

// ZapLogger is a core.Logger over zap.
type ZapLogger struct {
	z *zap.Logger
}

var _ core.Logger = (*ZapLogger)(nil)

func NewZapLogger(z *zap.Logger) *ZapLogger {
	return &ZapLogger{z: z}
}

// NewDevelopment returns a console logger for DEV, a JSON one otherwise.
func NewDevelopment(conf *core.Config) (*zap.Logger, error) {
	if conf.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// NewNopLogger discards everything.
func NewNopLogger() *ZapLogger {
	return NewZapLogger(zap.NewNop())
}

func (l ZapLogger) Sync() error { return l.z.Sync() }

// fields converts the args: error, map[string]interface{}, user.User
func fields(args []interface{}) []zap.Field {
	flds := make([]zap.Field, 0, len(args))
	for i, arg := range args {
		switch a := arg.(type) {
		case error:
			flds = append(flds, zap.Error(a))
		case map[string]interface{}:
			for k, v := range a {
				flds = append(flds, zap.Any(k, v))
			}
		case user.User:
			flds = append(flds, zap.String("actor_id", a.ID), zap.Strings("actor_roles", a.Roles))
		default:
			flds = append(flds, zap.Any(fmt.Sprintf("arg%d", i), a))
		}
	}
	return flds
}

func (l ZapLogger) Debug(msg string, args ...interface{}) { l.z.Debug(msg, fields(args)...) }
func (l ZapLogger) Info(msg string, args ...interface{})  { l.z.Info(msg, fields(args)...) }
func (l ZapLogger) Warn(msg string, args ...interface{})  { l.z.Warn(msg, fields(args)...) }
func (l ZapLogger) Error(msg string, args ...interface{}) { l.z.Error(msg, fields(args)...) }
func (l ZapLogger) Fatal(msg string, args ...interface{}) { l.z.Fatal(msg, fields(args)...) }
