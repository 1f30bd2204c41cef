package model

import (
	"encoding/json"
	"fmt"
)

// TestType enumerates the exam kinds a result can be recorded for.
type TestType string

const (
	TestTypeTheory          TestType = "TEORICO"
	TestTypeIndividualSkill TestType = "DESTREZA_INDIVIDUAL"
	TestTypePublicRoad      TestType = "VIA_PUBLICA"
)

// TestTypes lists the accepted test types in their canonical order.
var TestTypes = []TestType{TestTypeTheory, TestTypeIndividualSkill, TestTypePublicRoad}

// Valid reports whether t is one of the accepted test types.
func (t TestType) Valid() bool {
	for _, known := range TestTypes {
		if t == known {
			return true
		}
	}
	return false
}

// StatusCompleted is the only status a freshly recorded result carries.
const StatusCompleted = "completed"

// AssignedUser is a user scheduled on a device for the day.
type AssignedUser struct {
	UserID         string   `json:"user_id"`
	AppointmentID  string   `json:"appointment_id"`
	FullName       string   `json:"full_name,omitempty"`
	DocumentNumber string   `json:"document_number,omitempty"`
	TestTypes      []string `json:"test_types,omitempty"`
	ScheduledAt    string   `json:"scheduled_at,omitempty"`
}

// DeviceAppointment groups the users assigned to one testing device on a date.
type DeviceAppointment struct {
	ResourceMAC     string         `json:"resource_mac"`
	AppointmentDate string         `json:"appointment_date"`
	CaleID          string         `json:"cale_id,omitempty"`
	Users           []AssignedUser `json:"users"`
}

// CenterAppointment is a single appointment owned by one user at a testing center.
type CenterAppointment struct {
	AppointmentID   string `json:"appointmentId"`
	UserID          string `json:"userId"`
	CaleID          string `json:"caleId"`
	AppointmentDate string `json:"appointmentDate,omitempty"`
	FullName        string `json:"fullName,omitempty"`
	DocumentNumber  string `json:"documentNumber,omitempty"`
	TestType        string `json:"testType,omitempty"`
	StartPcMac      string `json:"startPcMac,omitempty"`
}

// Cale describes a testing center.
type Cale struct {
	CaleID  string `json:"cale_id"`
	Name    string `json:"name"`
	City    string `json:"city,omitempty"`
	Address string `json:"address,omitempty"`
}

// DocumentID is a record id. Databases written by older json-server releases
// carry numeric ids, which decode to their decimal text.
type DocumentID string

func (id *DocumentID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = DocumentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number, got %s", data)
	}
	*id = DocumentID(n.String())
	return nil
}

// TestResult is a persisted exam outcome. Records are append-only.
type TestResult struct {
	ID            DocumentID     `json:"id"`
	TestResultID  string         `json:"test_result_id"`
	UserID        string         `json:"user_id"`
	AppointmentID string         `json:"appointment_id"`
	TestType      TestType       `json:"test_type"`
	Result        map[string]any `json:"result"`
	Status        string         `json:"status"`
	Notes         *string        `json:"notes"`
	PerformedAt   string         `json:"performed_at"`
	StartPcMac    *string        `json:"start_pc_mac,omitempty"`
	EndPcMac      *string        `json:"end_pc_mac,omitempty"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

// CamelTestResult renders a TestResult with the camelCase keys used by the envelope API.
type CamelTestResult struct {
	ID            DocumentID     `json:"id"`
	TestResultID  string         `json:"testResultId"`
	UserID        string         `json:"userId"`
	AppointmentID string         `json:"appointmentId"`
	TestType      TestType       `json:"testType"`
	Result        map[string]any `json:"result"`
	Status        string         `json:"status"`
	Notes         *string        `json:"notes"`
	PerformedAt   string         `json:"performedAt"`
	StartPcMac    *string        `json:"startPcMac,omitempty"`
	EndPcMac      *string        `json:"endPcMac,omitempty"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
}

// Camel converts the record to its camelCase rendering.
func (r TestResult) Camel() CamelTestResult {
	return CamelTestResult{
		ID:            r.ID,
		TestResultID:  r.TestResultID,
		UserID:        r.UserID,
		AppointmentID: r.AppointmentID,
		TestType:      r.TestType,
		Result:        r.Result,
		Status:        r.Status,
		Notes:         r.Notes,
		PerformedAt:   r.PerformedAt,
		StartPcMac:    r.StartPcMac,
		EndPcMac:      r.EndPcMac,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
