package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/cloudmint/backend/internal/database"
	"github.com/cloudmint/backend/internal/services"
)

var (
	schedule = flag.String("schedule", "5 0 * * *", "Cron schedule for the charge cycle (default: 00:05 UTC daily)")
	runOnce  = flag.Bool("run-once", false, "Run one charge cycle pass and exit")
)

// initConfig loads .env and binds the environment variables this binary
// honors. The runner connects to the same database and notification queue
// as the API server.
func initConfig() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("notifications.queue", "NOTIFICATIONS_QUEUE")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}
}

func main() {
	flag.Parse()
	initConfig()

	db := database.InitDatabase()
	defer database.CloseDB()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	notifier := services.NewNotifyService(redisClient)
	chargeService := services.NewChargeCycleService(db, notifier)

	// Run once mode (for testing or a missed period)
	if *runOnce {
		summary, err := chargeService.Run(context.Background())
		if err != nil {
			log.Fatalf("Charge cycle failed: %v", err)
		}
		log.Printf("Charge cycle completed: %d charged, %d suspended, %d collected",
			summary.Charged, summary.Suspended, summary.TotalCollected)
		return
	}

	// Scheduled mode
	c := cron.New()

	_, err := c.AddFunc(*schedule, func() {
		log.Println("Starting scheduled charge cycle")

		summary, err := chargeService.Run(context.Background())
		if err != nil {
			// No retry here; the next scheduled run is the retry.
			log.Printf("Charge cycle failed: %v", err)
			return
		}
		log.Printf("Charge cycle completed: %d charged, %d suspended, %d collected",
			summary.Charged, summary.Suspended, summary.TotalCollected)
	})
	if err != nil {
		log.Fatalf("Failed to schedule charge cycle: %v", err)
	}

	c.Start()
	log.Println("Billing cycle runner started")
	log.Printf("Charge cycle schedule: %s", *schedule)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	log.Println("Billing cycle runner stopped")
}
