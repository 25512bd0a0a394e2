package main

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/cloudmint/backend/internal/database"
)

func TestInitConfigBindsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("DATABASE_NAME", "cloud_billing_prod")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("NOTIFICATIONS_QUEUE", "notification_queue_prod")

	initConfig()

	cfg := database.GetConfig()
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, "cloud_billing_prod", cfg.Name)
	assert.Equal(t, "redis.internal", viper.GetString("redis.host"))
	assert.Equal(t, "notification_queue_prod", viper.GetString("notifications.queue"))
}
