package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// SubmissionStatus is the lifecycle state of a submission. The only values
// are the four declared below; the zero value is not a valid status.
type SubmissionStatus struct {
	name string
}

var (
	SubmissionStatusPending = SubmissionStatus{name: "PENDING"}
	SubmissionStatusSuccess = SubmissionStatus{name: "SUCCESS"}
	SubmissionStatusFail    = SubmissionStatus{name: "FAIL"}
	SubmissionStatusError   = SubmissionStatus{name: "ERROR"}
)

// SubmissionStatuses lists every status in declaration order.
func SubmissionStatuses() []SubmissionStatus {
	return []SubmissionStatus{SubmissionStatusPending, SubmissionStatusSuccess, SubmissionStatusFail, SubmissionStatusError}
}

// ParseSubmissionStatus resolves a status name, ignoring case and surrounding spaces.
func ParseSubmissionStatus(value string) (SubmissionStatus, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, status := range SubmissionStatuses() {
		if status.name == normalized {
			return status, nil
		}
	}
	return SubmissionStatus{}, fmt.Errorf("unknown submission status %q", value)
}

func (s SubmissionStatus) String() string {
	return s.name
}

// IsValid reports whether s is one of the declared statuses.
func (s SubmissionStatus) IsValid() bool {
	return s.name != ""
}

// IsTerminal reports whether no further transition may leave s.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case SubmissionStatusSuccess, SubmissionStatusFail, SubmissionStatusError:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Only PENDING may move, and only into a terminal status.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	return s == SubmissionStatusPending && next.IsTerminal()
}

// Value implements driver.Valuer.
func (s SubmissionStatus) Value() (driver.Value, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid submission status")
	}
	return s.name, nil
}

// Scan implements sql.Scanner.
func (s *SubmissionStatus) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into submission status", src)
	}

	parsed, err := ParseSubmissionStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// GormDataType tells gorm how to declare the column.
func (SubmissionStatus) GormDataType() string {
	return "varchar(16)"
}

// MarshalJSON implements json.Marshaler.
func (s SubmissionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.name)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SubmissionStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSubmissionStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
