package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeBookingSweep cancels bookings that sat pending for too long.
	TaskTypeBookingSweep = "booking:sweep"
	// TaskTypeInsuranceScan flags vehicles whose insurance expires soon.
	TaskTypeInsuranceScan = "fleet:insurance_scan"
)

// BookingSweepPayload bounds which pending bookings the sweep cancels.
type BookingSweepPayload struct {
	// OlderThan is the minimum pending age before a booking is swept.
	OlderThan time.Duration `json:"older_than"`
}

// NewBookingSweepTask constructs an Asynq task for the pending-booking sweep.
func NewBookingSweepTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(BookingSweepPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBookingSweep, body, asynq.Queue(QueueDefault)), nil
}

// InsuranceScanPayload bounds the insurance expiry lookahead window.
type InsuranceScanPayload struct {
	Within time.Duration `json:"within"`
}

// NewInsuranceScanTask constructs an Asynq task for the insurance expiry scan.
func NewInsuranceScanTask(within time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(InsuranceScanPayload{Within: within})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeInsuranceScan, body, asynq.Queue(QueueDefault)), nil
}
