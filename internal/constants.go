package internal

const (
	ConfigPath        = "config.json"
	DotEnvPath        = "./.env"
	DBTimestampLayout = "2006-01-02 15:04:05"
	APIKeyHeader      = "X-Runbatch-Key"
	LastEventIDHeader = "Last-Event-ID"
)
