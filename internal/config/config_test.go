package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "outreach_db", cfg.Database.Database)
				assert.Equal(t, "outreach_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "job_runs", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
				assert.Equal(t, 4, cfg.Worker.JobRunners)
				assert.Equal(t, 9091, cfg.Worker.MetricsPort)
				assert.Equal(t, 2, cfg.Pipeline.DefaultConcurrency)
				assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
				assert.Equal(t, 30*time.Second, cfg.Pipeline.RetryBaseDelay)
				assert.Equal(t, 5*time.Minute, cfg.Pipeline.RateLimitDelay)
				assert.Equal(t, 10, cfg.Pipeline.DispatchCapacity)
				assert.Equal(t, "https://dm.example.com", cfg.Delivery.DMBaseURL)
				assert.Equal(t, "https://hooks.example.com/alerts", cfg.Notifier.WebhookURL)
				assert.Equal(t, "outreach-api-service", cfg.App.Name)
			}
		})
	}
}

// validConfig returns a config that passes both service validations.
func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "outreach_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "outreach_exchange",
			},
			Queue: QueueConfig{
				Name: "job_runs",
			},
		},
		Worker: WorkerConfig{
			JobRunners: 4,
		},
		Pipeline: PipelineConfig{
			DefaultConcurrency: 2,
			MaxRetries:         3,
			DispatchCapacity:   10,
			AttemptTimeout:     30 * time.Second,
		},
	}
}

func TestValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "server port too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "server port too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = -1 },
			wantErr:   true,
			errString: "invalid database port",
		},
		{
			name:      "missing database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "missing rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "missing exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "exchange name is required",
		},
		{
			name:      "missing queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "zero job runners",
			mutate:    func(c *Config) { c.Worker.JobRunners = 0 },
			wantErr:   true,
			errString: "job_runners must be greater than 0",
		},
		{
			name:      "zero default concurrency",
			mutate:    func(c *Config) { c.Pipeline.DefaultConcurrency = 0 },
			wantErr:   true,
			errString: "default_concurrency must be greater than 0",
		},
		{
			name:      "zero dispatch capacity",
			mutate:    func(c *Config) { c.Pipeline.DispatchCapacity = 0 },
			wantErr:   true,
			errString: "dispatch_capacity must be greater than 0",
		},
		{
			name:      "zero attempt timeout",
			mutate:    func(c *Config) { c.Pipeline.AttemptTimeout = 0 },
			wantErr:   true,
			errString: "attempt_timeout must be greater than 0",
		},
		{
			name:      "shared validation still applies",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
