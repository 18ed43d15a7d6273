package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ProjectID   string
	Region      string
	LogLevel    string
	FilesBucket string

	VertexModel string
	RendererURL string

	GmailClientID     string
	GmailClientSecret string
	KMSKeyName        string
	MailHookKey       string

	// Matching thresholds. ConnectThreshold is the minimum score for a
	// candidate to receive a precision-search hint; GreatMatchThreshold
	// early-exits a strategy's inner search loop once GreatMatchLimit
	// candidates reach it; StrongMatchThreshold stops the orchestrator
	// from trying further strategies on a transaction.
	ConnectThreshold     int
	GreatMatchThreshold  int
	StrongMatchThreshold int
	GreatMatchLimit      int

	// Queue processing.
	BatchSize          int
	BatchTimeout       time.Duration
	SchedulerInterval  time.Duration
	MaxRetries         int
	PauseCheckInterval int

	GmailMinInterval time.Duration
}

func New() *Config {
	return &Config{
		ProjectID:   os.Getenv("PROJECTID"),
		Region:      os.Getenv("REGION"),
		LogLevel:    os.Getenv("LOGLEVEL"),
		FilesBucket: os.Getenv("FILESBUCKET"),

		VertexModel: os.Getenv("VERTEXMODEL"),
		RendererURL: os.Getenv("RENDERERURL"),

		GmailClientID:     os.Getenv("GMAILCLIENTID"),
		GmailClientSecret: os.Getenv("GMAILCLIENTSECRET"),
		KMSKeyName:        os.Getenv("KMSKEYNAME"),
		MailHookKey:       os.Getenv("MAILHOOKKEY"),

		ConnectThreshold:     getInt("CONNECTTHRESHOLD", 55),
		GreatMatchThreshold:  getInt("GREATMATCHTHRESHOLD", 80),
		StrongMatchThreshold: getInt("STRONGMATCHTHRESHOLD", 85),
		GreatMatchLimit:      getInt("GREATMATCHLIMIT", 2),

		BatchSize:          getInt("BATCHSIZE", 20),
		BatchTimeout:       getDuration("BATCHTIMEOUT", 4*time.Minute),
		SchedulerInterval:  getDuration("SCHEDULERINTERVAL", time.Minute),
		MaxRetries:         getInt("MAXRETRIES", 2),
		PauseCheckInterval: getInt("PAUSECHECKINTERVAL", 10),

		GmailMinInterval: getDuration("GMAILMININTERVAL", 250*time.Millisecond),
	}
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
