package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	Port        int    `mapstructure:"PORT"`

	MinRoomCapacity int `mapstructure:"MIN_ROOM_CAPACITY"`
	MaxRoomCapacity int `mapstructure:"MAX_ROOM_CAPACITY"`

	// ReconnectGrace is how long a disconnected player keeps their seat
	// before host transfer / removal runs.
	ReconnectGrace     time.Duration `mapstructure:"RECONNECT_GRACE"`
	DiscussionDuration time.Duration `mapstructure:"DISCUSSION_DURATION"`
	VotingDuration     time.Duration `mapstructure:"VOTING_DURATION"`

	// RoomReapAfter is the idle threshold after which an abandoned room is
	// reaped; GameRetention is how long a COMPLETED game is kept around.
	RoomReapAfter time.Duration `mapstructure:"ROOM_REAP_AFTER"`
	GameRetention time.Duration `mapstructure:"GAME_RETENTION"`
}

var AppConfig *Config

// LoadConfig loads the configuration from a .env file and environment variables.
func LoadConfig() {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	viper.SetDefault("PORT", 8080)
	viper.SetDefault("MIN_ROOM_CAPACITY", 4)
	viper.SetDefault("MAX_ROOM_CAPACITY", 10)
	viper.SetDefault("RECONNECT_GRACE", 30*time.Second)
	viper.SetDefault("DISCUSSION_DURATION", 3*time.Minute)
	viper.SetDefault("VOTING_DURATION", 60*time.Second)
	viper.SetDefault("ROOM_REAP_AFTER", 30*time.Minute)
	viper.SetDefault("GAME_RETENTION", time.Hour)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("Warning: .env file not found, loading from environment variables")
	}

	err := viper.Unmarshal(&AppConfig)
	if err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
}
