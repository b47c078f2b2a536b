package cost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const alertsFileName = "channel_alerts.jsonl"

// Alert is one operational event worth surfacing to an operator, appended to
// channel_alerts.jsonl.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	ChannelID string    `json:"channel_id"`
	Kind      string    `json:"kind"` // "blacklisted", "escalated", "recovered", "disabled"
	Model     string    `json:"model,omitempty"`
	Message   string    `json:"message"`
}

// AlertLog appends alerts to a JSONL file under the log directory. Writes are
// serialized; a failed write is reported to the caller and otherwise dropped.
type AlertLog struct {
	mu   sync.Mutex
	path string
}

// NewAlertLog returns an alert log writing under dir.
func NewAlertLog(dir string) *AlertLog {
	return &AlertLog{path: filepath.Join(dir, alertsFileName)}
}

// Append writes one alert line, stamping the time if unset.
func (a *AlertLog) Append(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open alert log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write alert log: %w", err)
	}
	return nil
}
