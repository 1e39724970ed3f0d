package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			Listen:                ":8080",
			RequestTimeoutSeconds: 25,
			MaxConcurrentMessages: 5,
			BusBuffer:             100,
			DefaultProvider:       "gemini",
		},
		WhatsApp: WhatsAppConfig{
			WebhookPath: "/webhook/whatsapp",
			APIBase:     "https://graph.facebook.com/v21.0",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Database: DatabaseConfig{
			Path: "~/.mamabot/mamabot.db",
		},
		Providers: map[string]ProviderConfig{
			"gemini": {
				Enabled:      false,
				DefaultModel: "gemini-1.5-flash",
			},
			"openai": {
				Enabled:      false,
				DefaultModel: "gpt-4o-mini",
			},
		},
		Dedup: DedupConfig{
			TTLHours:  24,
			FailMode:  "open",
			KeyPrefix: "dedup",
		},
		Facilities: FacilitiesConfig{
			TopK:          3,
			DefaultCounty: "Migori",
		},
		History: HistoryConfig{
			MaxTurns: 6,
			TTLHours: 24,
		},
		Registration: RegistrationConfig{
			MinGestationalWeeks: 1,
			MaxGestationalWeeks: 44,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		API: APIConfig{
			Enabled: true,
		},
	}
}
