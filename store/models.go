package store

import "time"

// ListingStatus enumerates Monitored Listing lifecycle states.
type ListingStatus string

const (
	ListingStatusMonitoring      ListingStatus = "monitoring"
	ListingStatusReady           ListingStatus = "ready"
	ListingStatusScheduled       ListingStatus = "scheduled"
	ListingStatusExecutedSuccess ListingStatus = "executed_success"
	ListingStatusExecutedFailed  ListingStatus = "executed_failed"
	ListingStatusMissed          ListingStatus = "missed"
	ListingStatusError           ListingStatus = "error"
)

// TargetStatus enumerates Snipe Target execution states.
type TargetStatus string

const (
	TargetStatusPending   TargetStatus = "pending"
	TargetStatusScheduled TargetStatus = "scheduled"
	TargetStatusExecuting TargetStatus = "executing"
	TargetStatusSuccess   TargetStatus = "success"
	TargetStatusFailed    TargetStatus = "failed"
	TargetStatusCancelled TargetStatus = "cancelled"
	TargetStatusMissed    TargetStatus = "missed"
)

// ExecutionType enumerates the kinds of execution history entries.
type ExecutionType string

const (
	ExecutionTypeSnipe  ExecutionType = "snipe"
	ExecutionTypeManual ExecutionType = "manual"
	ExecutionTypeTest   ExecutionType = "test"
)

// MonitoredListing is the durable record of a calendar-announced token
// under observation, one row per vcoin_id.
type MonitoredListing struct {
	VcoinID                string    `gorm:"primaryKey;column:vcoin_id"`
	SymbolName              string    `gorm:"column:symbol_name"`
	ProjectName             string    `gorm:"column:project_name"`
	AnnouncedLaunchTimeMs   int64     `gorm:"column:announced_launch_time_ms"`
	AnnouncedLaunchUTC      time.Time `gorm:"column:announced_launch_utc"`
	Status                  ListingStatus `gorm:"column:status;index"`
	CreatedAt               time.Time `gorm:"autoCreateTime;column:created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime;column:updated_at"`
}

func (MonitoredListing) TableName() string { return "monitored_listings" }

// SnipeTarget is the durable, fully-parameterized buy intent for a listing.
// At most one exists per vcoin_id, enforced by a unique index.
type SnipeTarget struct {
	ID                     uint64        `gorm:"primaryKey;autoIncrement;column:id"`
	VcoinID                string        `gorm:"column:vcoin_id;uniqueIndex"`
	Contract               string        `gorm:"column:contract"`
	PricePrecision         int           `gorm:"column:price_precision"`
	QtyPrecision           int           `gorm:"column:qty_precision"`
	ActualLaunchTimeMs     int64         `gorm:"column:actual_launch_time_ms"`
	ActualLaunchUTC        time.Time     `gorm:"column:actual_launch_utc"`
	DiscoveredAtUTC        time.Time     `gorm:"column:discovered_at_utc"`
	HoursAdvanceNotice     float64       `gorm:"column:hours_advance_notice"`
	IntendedBuyAmountQuote float64       `gorm:"column:intended_buy_amount_quote"`
	OrderParams            string        `gorm:"column:order_params;type:text"` // JSON
	ExecutionStatus        TargetStatus  `gorm:"column:execution_status;index"`
	ExecutionResponse      string        `gorm:"column:execution_response;type:text"` // JSON, optional
	ExecutedAtUTC          *time.Time    `gorm:"column:executed_at_utc"`
	CreatedAt              time.Time     `gorm:"autoCreateTime;column:created_at"`
	UpdatedAt              time.Time     `gorm:"autoUpdateTime;column:updated_at"`
}

func (SnipeTarget) TableName() string { return "snipe_targets" }

// ExecutionHistory is an append-only log of execution attempts, written by
// the (out-of-scope) execution collaborator.
type ExecutionHistory struct {
	ID                    uint64        `gorm:"primaryKey;autoIncrement;column:id"`
	VcoinID               string        `gorm:"column:vcoin_id;index"`
	Contract              string        `gorm:"column:contract"`
	ExecutionTimestampUTC time.Time     `gorm:"column:execution_timestamp_utc"`
	ExecutionType         ExecutionType `gorm:"column:execution_type"`
	BuyAmountQuote        float64       `gorm:"column:buy_amount_quote"`
	Success               bool          `gorm:"column:success"`
	OrderID               string        `gorm:"column:order_id"`
	FilledQty              float64      `gorm:"column:filled_qty"`
	AvgPrice              float64       `gorm:"column:avg_price"`
	TotalCostQuote        float64       `gorm:"column:total_cost_quote"`
	DurationMs            int64         `gorm:"column:duration_ms"`
	ErrorKind             string        `gorm:"column:error_kind"`
	ErrorMessage          string        `gorm:"column:error_message"`
	CreatedAt             time.Time     `gorm:"autoCreateTime;column:created_at"`
}

func (ExecutionHistory) TableName() string { return "execution_history" }

// WorkflowRun is a durable record of one invocation of a scheduler workflow.
type WorkflowRun struct {
	RunID      string    `gorm:"primaryKey;column:run_id"`
	WorkflowID string    `gorm:"column:workflow_id;index"`
	Trigger    string    `gorm:"column:trigger"`
	Status     string    `gorm:"column:status"`
	CreatedAt  time.Time `gorm:"autoCreateTime;column:created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime;column:updated_at"`
}

func (WorkflowRun) TableName() string { return "workflow_runs" }

// StepResult persists one completed workflow step's result, keyed by
// (run_id, step_name) so replays can skip already-completed steps.
type StepResult struct {
	RunID       string    `gorm:"primaryKey;column:run_id"`
	StepName    string    `gorm:"primaryKey;column:step_name"`
	ResultJSON  string    `gorm:"column:result_json;type:text"`
	CompletedAt time.Time `gorm:"autoCreateTime;column:completed_at"`
}

func (StepResult) TableName() string { return "step_results" }

// APICredential holds an operator's encrypted exchange credentials. Only
// the Adapter reads this table; the PDE never touches it.
type APICredential struct {
	ID                  uint64    `gorm:"primaryKey;autoIncrement;column:id"`
	Exchange            string    `gorm:"column:exchange;uniqueIndex"`
	EncryptedAPIKey     string    `gorm:"column:encrypted_api_key"`
	EncryptedSecretKey  string    `gorm:"column:encrypted_secret_key"`
	CreatedAt           time.Time `gorm:"autoCreateTime;column:created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime;column:updated_at"`
}

func (APICredential) TableName() string { return "api_credentials" }

// AllModels lists every model for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&MonitoredListing{},
		&SnipeTarget{},
		&ExecutionHistory{},
		&WorkflowRun{},
		&StepResult{},
		&APICredential{},
	}
}
