package task

import "climatology/harvester/internal/domain"

const ItemRetryTaskType = "ItemRetryTask"

// ItemRetryTask is a download that exhausted its attempts during a harvest and is queued for a
// later retry pass.
type ItemRetryTask struct {
	UnitKey     string               `json:"unit_key"`
	Item        domain.ItemReference `json:"item"`
	Destination string               `json:"destination"`
	RetryCount  int                  `json:"retry_count"` // completed retry passes
	Error       string               `json:"error"`       // last failure
}

func (t *ItemRetryTask) TaskType() string {
	return ItemRetryTaskType
}

func (t *ItemRetryTask) TaskValue() ([]byte, error) {
	return DefaultTaskValue(t)
}
