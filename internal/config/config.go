// Package config loads every tunable named in the system's external
// interface (worker count, batch size, fusion weights, thresholds, v3
// signal parameters, analyzer cadence) from environment variables, the
// same way a cmd/engine wiring does, but centralized into a
// single struct so the rest of the codebase never touches os.Getenv directly.
package config

import (
	"os"
	"strconv"
	"time"
)

// FusionWeights are the five weights applied in risk fusion. Must sum to 1.
type FusionWeights struct {
	Graph       float64
	Behavioral  float64
	Device      float64
	DeadAccount float64
	Velocity    float64
}

// Thresholds bundles the named risk and behavioural thresholds.
type Thresholds struct {
	High               float64
	Medium             float64
	DormancyDays       int
	VelocityWindowSec  int
	BurstThreshold     int
	ImpossibleTravelKMH float64
}

// V3Params are the named v3 signal parameters.
type V3Params struct {
	MultiUserThreshold   int
	MultiUserPenalty     float64
	CircadianPenalty     float64
	CircadianCompound    float64
	IdenticalMinCount    int
	IdenticalPenalty     float64
	SleepFlashRatio      float64
	NewDeviceHighAmount  float64
	EndpointRotationMax  int
}

// Config is the fully resolved runtime configuration.
type Config struct {
	WorkerCount     int
	WorkerBatchSize int
	SoftDeadline    time.Duration

	StreamKey       string
	RedisAddr       string
	ConsumerGroup   string

	GraphStoreDSN   string
	GraphPoolSize   int

	Weights    FusionWeights
	Thresholds Thresholds
	V3         V3Params

	AnalyzerCadence time.Duration

	ASNDataPath string

	HTTPAddr string
}

// getEnvOrDefault returns the value of key, or def when key is unset or
// empty.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDurationMS(key string, defMS int) time.Duration {
	return time.Duration(getEnvInt(key, defMS)) * time.Millisecond
}

func getEnvDurationSec(key string, defSec int) time.Duration {
	return time.Duration(getEnvInt(key, defSec)) * time.Second
}

// Load builds a Config from the process environment, falling back to the
// documented defaults for every field. It never fails: subsystems that
// depend on an unset connection string are expected to degrade gracefully,
// following a non-fatal dependency-wiring pattern in main.go.
func Load() Config {
	return Config{
		WorkerCount:     getEnvInt("WORKER_COUNT", 4),
		WorkerBatchSize: getEnvInt("WORKER_BATCH_SIZE", 16),
		SoftDeadline:    getEnvDurationMS("SOFT_DEADLINE_MS", 200),

		StreamKey:     getEnvOrDefault("STREAM_KEY", "fraudmesh:transactions"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		ConsumerGroup: getEnvOrDefault("STREAM_CONSUMER_GROUP", "fraudmesh-workers"),

		GraphStoreDSN: getEnvOrDefault("GRAPH_STORE_DSN", ""),
		GraphPoolSize: getEnvInt("GRAPH_POOL_SIZE", 50),

		Weights: FusionWeights{
			Graph:       getEnvFloat("WEIGHT_GRAPH", 0.30),
			Behavioral:  getEnvFloat("WEIGHT_BEHAVIORAL", 0.25),
			Device:      getEnvFloat("WEIGHT_DEVICE", 0.20),
			DeadAccount: getEnvFloat("WEIGHT_DEAD_ACCOUNT", 0.15),
			Velocity:    getEnvFloat("WEIGHT_VELOCITY", 0.10),
		},

		Thresholds: Thresholds{
			High:                getEnvFloat("THRESHOLD_HIGH", 70),
			Medium:              getEnvFloat("THRESHOLD_MEDIUM", 40),
			DormancyDays:        getEnvInt("DORMANCY_DAYS", 30),
			VelocityWindowSec:   getEnvInt("VELOCITY_WINDOW_SEC", 60),
			BurstThreshold:      getEnvInt("BURST_THRESHOLD", 10),
			ImpossibleTravelKMH: getEnvFloat("IMPOSSIBLE_TRAVEL_KMH", 250),
		},

		V3: V3Params{
			MultiUserThreshold:  getEnvInt("V3_MULTI_USER_THRESHOLD", 3),
			MultiUserPenalty:    getEnvFloat("V3_MULTI_USER_PENALTY", 25.0),
			CircadianPenalty:    getEnvFloat("V3_CIRCADIAN_PENALTY", 20.0),
			CircadianCompound:   getEnvFloat("V3_CIRCADIAN_COMPOUND", 35.0),
			IdenticalMinCount:   getEnvInt("V3_IDENTICAL_MIN_COUNT", 3),
			IdenticalPenalty:    getEnvFloat("V3_IDENTICAL_PENALTY", 30.0),
			SleepFlashRatio:     getEnvFloat("V3_SLEEP_FLASH_RATIO", 50.0),
			NewDeviceHighAmount: getEnvFloat("V3_NEW_DEVICE_AMOUNT", 10000.0),
			EndpointRotationMax: getEnvInt("V3_ENDPOINT_ROTATION_MAX", 5),
		},

		AnalyzerCadence: getEnvDurationSec("ANALYZER_CADENCE_SEC", 5),

		ASNDataPath: getEnvOrDefault("ASN_DATA_PATH", ""),

		HTTPAddr: getEnvOrDefault("HTTP_ADDR", ":8080"),
	}
}

// WeightSum returns the sum of the five fusion weights. Load does not
// check this sum; weights read from the environment are used as given.
func (w FusionWeights) WeightSum() float64 {
	return w.Graph + w.Behavioral + w.Device + w.DeadAccount + w.Velocity
}
