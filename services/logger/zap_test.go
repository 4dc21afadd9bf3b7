package logsvc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/masomo-bulletins/core/user"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	actor := user.User{ID: "u1", Roles: []string{user.RoleAdmin}}
	logger.Info("bulk send done", map[string]interface{}{"succeeded": 3}, actor)
	logger.Error("render failed", errors.New("boom"), "extra")

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 2) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "bulk send done", entries[0].Message)
		assert.EqualValues(t, 3, ctx["succeeded"])
		assert.Equal(t, "u1", ctx["actor_id"])

		ctx = entries[1].ContextMap()
		assert.Equal(t, zap.ErrorLevel, entries[1].Level)
		assert.Equal(t, "boom", ctx["error"])
		assert.Equal(t, "extra", ctx["arg1"])
	}
}
