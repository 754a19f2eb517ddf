// Package config collects every tunable of a training run into one
// validated struct constructed at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Transport.
	ServerHost string
	ServerPort int

	// Federation.
	NumLearners     int
	Rounds          int
	Alpha           float64
	Patience        int
	MinDelta        float64
	CheckpointEvery int

	// Local update.
	Gamma       float64
	ClipEpsilon float64
	ActorLR     float64
	CriticLR    float64
	EntropyCoef float64
	KEpochs     int
	K           int

	// Model.
	Hidden     []int
	Activation string
	MaxRoads   int

	// Signal timing.
	YellowTime int
	GreenTime  int

	// Learner connect behavior.
	ConnectRetries int
	ConnectBackoff time.Duration

	// Persistence.
	ModelPath string
	LogPath   string

	Seed int64
}

// FromEnv builds a config from environment variables with the defaults
// of the reference deployment.
func FromEnv() Config {
	return Config{
		ServerHost:      getenv("SERVER_HOST", "127.0.0.1"),
		ServerPort:      getenvInt("SERVER_PORT", 9100),
		NumLearners:     getenvInt("NUM_LEARNERS", 2),
		Rounds:          getenvInt("ROUNDS", 200),
		Alpha:           getenvFloat("ALPHA", 0.5),
		Patience:        getenvInt("PATIENCE", 0),
		MinDelta:        getenvFloat("MIN_DELTA", 0),
		CheckpointEvery: getenvInt("CHECKPOINT_EVERY", 50),
		Gamma:           getenvFloat("GAMMA", 0.99),
		ClipEpsilon:     getenvFloat("CLIP_EPSILON", 0.2),
		ActorLR:         getenvFloat("ACTOR_LR", 0.0003),
		CriticLR:        getenvFloat("CRITIC_LR", 0.001),
		EntropyCoef:     getenvFloat("ENTROPY_COEF", 0),
		KEpochs:         getenvInt("K_EPOCHS", 4),
		K:               getenvInt("K_STEPS", 10),
		Hidden:          getenvInts("HIDDEN_LAYERS", []int{64, 64}),
		Activation:      getenv("ACTIVATION", "relu"),
		MaxRoads:        getenvInt("MAX_ROADS", 4),
		YellowTime:      getenvInt("YELLOW_TIME", 3),
		GreenTime:       getenvInt("GREEN_TIME", 10),
		ConnectRetries:  getenvInt("CONNECT_RETRIES", 15),
		ConnectBackoff:  time.Duration(getenvInt("CONNECT_BACKOFF_MS", 2000)) * time.Millisecond,
		ModelPath:       getenv("MODEL_PATH", "saved_models/universal_model.bin"),
		LogPath:         getenv("LOG_PATH", "training_logs.json"),
		Seed:            getenvInt64("SEED", time.Now().UnixNano()),
	}
}

func (c Config) Validate() error {
	if c.NumLearners <= 0 {
		return fmt.Errorf("config: num learners must be > 0, got %d", c.NumLearners)
	}
	if c.Rounds <= 0 {
		return fmt.Errorf("config: rounds must be > 0, got %d", c.Rounds)
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("config: alpha must be in (0,1], got %g", c.Alpha)
	}
	if c.Gamma <= 0 || c.Gamma > 1 {
		return fmt.Errorf("config: gamma must be in (0,1], got %g", c.Gamma)
	}
	if c.ClipEpsilon <= 0 {
		return fmt.Errorf("config: clip epsilon must be > 0, got %g", c.ClipEpsilon)
	}
	if c.ActorLR <= 0 || c.CriticLR <= 0 {
		return fmt.Errorf("config: learning rates must be > 0")
	}
	if c.KEpochs <= 0 || c.K <= 0 {
		return fmt.Errorf("config: K and K epochs must be > 0")
	}
	if c.MaxRoads < 2 {
		return fmt.Errorf("config: max roads must be >= 2, got %d", c.MaxRoads)
	}
	if len(c.Hidden) == 0 {
		return fmt.Errorf("config: at least one hidden layer required")
	}
	if c.Activation != "relu" && c.Activation != "tanh" {
		return fmt.Errorf("config: activation must be relu or tanh, got %q", c.Activation)
	}
	if c.YellowTime < 0 || c.GreenTime <= 0 {
		return fmt.Errorf("config: invalid phase durations")
	}
	if c.ModelPath == "" || c.LogPath == "" {
		return fmt.Errorf("config: model and log paths required")
	}
	return nil
}

func (c Config) Addr() string {
	return c.ServerHost + ":" + strconv.Itoa(c.ServerPort)
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInts(key string, fallback []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		parsed, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fallback
		}
		out = append(out, parsed)
	}
	return out
}
