package models

// Health is the body of the liveness and readiness endpoints.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus is the body of the status endpoint.
type SystemStatus struct {
	Status     HealthStatus           `json:"status"`
	Time       Timestamp              `json:"time"`
	Subsystems []SubsystemStatus      `json:"subsystems"`
	Providers  []ProviderStatus       `json:"providers"`
	LastRun    *RunSummary            `json:"lastRun,omitempty"`
	Scheduler  map[string]interface{} `json:"scheduler,omitempty"`
}

// SubsystemStatus represents the status of a dependency such as the store.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus is the circuit breaker view of an upstream API.
type ProviderStatus struct {
	Provider      string       `json:"provider"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState"`
	Requests      uint32       `json:"requests"`
	Failures      uint32       `json:"consecutiveFailures"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}

// RunSummary is the last finished ingestion run.
type RunSummary struct {
	RunID             string     `json:"runId"`
	Mode              string     `json:"mode"`
	State             string     `json:"state"`
	StartedAt         Timestamp  `json:"startedAt"`
	FinishedAt        *Timestamp `json:"finishedAt,omitempty"`
	Fetched           int        `json:"fetched"`
	Inserted          int        `json:"inserted"`
	Skipped           int        `json:"skipped"`
	Errors            int        `json:"errors"`
	StationsCreated   int        `json:"stationsCreated"`
	AdaptersProcessed int        `json:"adaptersProcessed"`
	Error             *string    `json:"error,omitempty"`
}
