package config

import "time"

// Validation tiers.
const (
	TierFast     = "fast"
	TierStandard = "standard"
	TierFull     = "full"
)

// DefaultStageCommands are used for stages without a configured command line.
var DefaultStageCommands = map[string]string{
	"typecheck": "npx tsc --noEmit --pretty false",
	"lint":      "npx eslint --format unix .",
	"prebuild":  "npx expo prebuild --no-install",
	"bundle":    "npx expo export --output-dir .shipwright/bundle",
}

// ApplyDefaults fills zero-valued fields with their defaults. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	if cfg.Database.Path == "" {
		cfg.Database.Path = "shipwright.db"
	}
	applyStorageDefaults(&cfg.Storage)
	applyWebhookDefaults(&cfg.Webhook)
	applyQueueDefaults(&cfg.Queue)
	applyPollerDefaults(&cfg.Poller)
	applyValidationDefaults(&cfg.Validation)
	applyBreakerDefaults(&cfg.Breakers.Provider, 120*time.Second)
	applyBreakerDefaults(&cfg.Breakers.Storage, 10*time.Second)
	applyRetryDefaults(&cfg.Retry)
	if cfg.OTA.TopErrors <= 0 {
		cfg.OTA.TopErrors = 10
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "shipwright"
	}
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func applyServerDefaults(s *ServerConfig) {
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.PublicURL == "" {
		s.PublicURL = "http://localhost:8080"
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 5 * time.Minute
	}
	if s.ShutdownGrace == 0 {
		s.ShutdownGrace = 30 * time.Second
	}
}

func applyStorageDefaults(s *StorageConfig) {
	if s.BasePath == "" {
		s.BasePath = "artifacts"
	}
	if s.SignedURLTTL == 0 {
		s.SignedURLTTL = time.Hour
	}
}

func applyWebhookDefaults(w *WebhookConfig) {
	if w.Path == "" {
		w.Path = "/webhooks/provider"
	}
	if w.RatePerMinute <= 0 {
		w.RatePerMinute = 120
	}
	if w.MaxBodyBytes <= 0 {
		w.MaxBodyBytes = 1 << 20
	}
}

func applyQueueDefaults(q *QueueConfig) {
	if q.Workers <= 0 {
		q.Workers = 3
	}
	if q.RatePerMinute <= 0 {
		q.RatePerMinute = 10
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = 3
	}
	if q.BackoffBase == 0 {
		q.BackoffBase = 5 * time.Second
	}
	if q.JobTimeout == 0 {
		q.JobTimeout = 15 * time.Minute
	}
	if q.CompletedRetention == 0 {
		q.CompletedRetention = 24 * time.Hour
	}
	if q.FailedRetention == 0 {
		q.FailedRetention = 7 * 24 * time.Hour
	}
	if q.SweepInterval == 0 {
		q.SweepInterval = 10 * time.Minute
	}
}

func applyPollerDefaults(p *PollerConfig) {
	if p.MinInterval == 0 {
		p.MinInterval = 15 * time.Second
	}
	if p.MaxInterval == 0 {
		p.MaxInterval = 30 * time.Second
	}
	if p.MaxDuration == 0 {
		p.MaxDuration = 2 * time.Hour
	}
}

func applyValidationDefaults(v *ValidationConfig) {
	if v.Tier == "" {
		v.Tier = TierFull
	}
	if v.Timeout == 0 {
		v.Timeout = 5 * time.Minute
	}
	if v.OutputLimit <= 0 {
		v.OutputLimit = 500
	}
	if v.Commands == nil {
		v.Commands = make(map[string]string, len(DefaultStageCommands))
	}
	for stage, cmd := range DefaultStageCommands {
		if _, ok := v.Commands[stage]; !ok {
			v.Commands[stage] = cmd
		}
	}
}

func applyBreakerDefaults(b *BreakerConfig, callTimeout time.Duration) {
	if b.FailureThreshold <= 0 {
		b.FailureThreshold = 5
	}
	if b.SuccessThreshold <= 0 {
		b.SuccessThreshold = 2
	}
	if b.ResetTimeout == 0 {
		b.ResetTimeout = 30 * time.Second
	}
	if b.CallTimeout == 0 {
		b.CallTimeout = callTimeout
	}
}

func applyRetryDefaults(r *RetryConfig) {
	if r.Backoff == "" {
		r.Backoff = RetryBackoffExponential
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.InitialDelay == 0 {
		r.InitialDelay = time.Second
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = 30 * time.Second
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2
	}
	if r.Jitter == 0 {
		r.Jitter = 0.1
	}
}
