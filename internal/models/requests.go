package models

// APIResponse is the standard response envelope for all API endpoints.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// --- Job API request payloads ---

type CreateJobRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	Endpoints         string `json:"endpoints"`
	RecurrenceType    string `json:"recurrence_type"`
	CronExpression    string `json:"cron_expression"`
	Enabled           *bool  `json:"enabled"`
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	DateRangeDays     int    `json:"date_range_days"`
	Incremental       bool   `json:"incremental"`
	TimeoutMinutes    int    `json:"timeout_minutes"`
	MaxRetries        int    `json:"max_retries"`
	RetryDelayMinutes int    `json:"retry_delay_minutes"`
}

type UpdateJobRequest struct {
	Name              *string `json:"name"`
	Description       *string `json:"description"`
	Endpoints         *string `json:"endpoints"`
	RecurrenceType    *string `json:"recurrence_type"`
	CronExpression    *string `json:"cron_expression"`
	Enabled           *bool   `json:"enabled"`
	StartDate         *string `json:"start_date"`
	EndDate           *string `json:"end_date"`
	DateRangeDays     *int    `json:"date_range_days"`
	Incremental       *bool   `json:"incremental"`
	TimeoutMinutes    *int    `json:"timeout_minutes"`
	MaxRetries        *int    `json:"max_retries"`
	RetryDelayMinutes *int    `json:"retry_delay_minutes"`
}

type RunJobRequest struct {
	Force bool `json:"force"`
}

// --- Sync API request payloads ---

type SyncRequest struct {
	Endpoints   []string `json:"endpoints"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Incremental bool     `json:"incremental"`
	Force       bool     `json:"force"`
}

type DeleteDataRequest struct {
	TableName string `json:"table_name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	// Confirm must be true; deletion is refused otherwise.
	Confirm bool `json:"confirm"`
}

// --- Health payloads ---

type HealthStatus struct {
	Status      string            `json:"status"`
	Database    string            `json:"database"`
	Breaker     BreakerHealth     `json:"circuit_breaker"`
	RateLimiter RateLimiterHealth `json:"rate_limiter"`
}

type BreakerHealth struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

type RateLimiterHealth struct {
	Remaining   int    `json:"remaining"`
	Ceiling     int    `json:"ceiling"`
	WindowReset string `json:"window_reset"`
}
