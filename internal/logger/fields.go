package logger

import (
	"time"

	"go.uber.org/zap"
)

func UserID(id string) zap.Field { return zap.String("user_id", id) }
func Event(name string) zap.Field { return zap.String("auth_event", name) }
func Outcome(name string) zap.Field { return zap.String("outcome", name) }
func Source(name string) zap.Field { return zap.String("source", name) }
func Component(name string) zap.Field { return zap.String("component", name) }
func StorageKey(key string) zap.Field { return zap.String("storage_key", key) }
func Elapsed(d time.Duration) zap.Field { return zap.Duration("elapsed", d) }
