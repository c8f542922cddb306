package integration

import (
	"testing"
	"time"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/compliance"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/patient"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/takehome"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
)

func TestTakeHomeOrder_HighRiskLimit(t *testing.T) {
	c := newClinic(t)
	p := c.createPatient(t, "MRN-TH-001", patient.RiskHigh)

	o := &takehome.Order{PatientID: p.ID, Days: 5, RiskLevel: takehome.RiskHigh, StartDate: "2024-01-01"}
	err := c.takehome.CreateOrder(c.ctx, o)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	status, body := apperr.Render(err)
	if status != 400 {
		t.Errorf("expected 400, got %d", status)
	}
	reasons, _ := body["reasons"].([]string)
	if len(reasons) != 1 || reasons[0] != "Exceeds maximum 3 days for high risk level" {
		t.Errorf("unexpected reasons: %v", body["reasons"])
	}

	ok := &takehome.Order{PatientID: p.ID, Days: 3, RiskLevel: takehome.RiskHigh, StartDate: "2024-01-01"}
	if err := c.takehome.CreateOrder(c.ctx, ok); err != nil {
		t.Fatalf("create 3-day order: %v", err)
	}
	if ok.EndDate != "2024-01-03" {
		t.Errorf("expected end date 2024-01-03, got %s", ok.EndDate)
	}
}

func TestTakeHome_PositiveScreenOpensHoldAndBlocks(t *testing.T) {
	c := newClinic(t)
	p := c.createPatient(t, "MRN-TH-002", patient.RiskLow)

	ds := &patient.DrugScreen{
		PatientID:   p.ID,
		Result:      patient.ResultPositive,
		Substances:  []string{"fentanyl"},
		CollectedAt: time.Now().Add(-time.Hour),
		RecordedBy:  &devStaff,
	}
	if err := c.patients.RecordDrugScreen(c.ctx, ds); err != nil {
		t.Fatalf("record screen: %v", err)
	}

	holds, err := c.compliance.ListHolds(c.ctx, "")
	if err != nil {
		t.Fatalf("list holds: %v", err)
	}
	if len(holds) != 1 || holds[0].ReasonCode != compliance.ReasonPositiveUDS {
		t.Fatalf("expected one positive-UDS hold, got %+v", holds)
	}
	if holds[0].PatientName != "Jordan Doe" {
		t.Errorf("expected resolved patient name, got %q", holds[0].PatientName)
	}

	elig, err := c.takehome.CheckEligibility(c.ctx, p.ID, 7, "")
	if err != nil {
		t.Fatalf("check eligibility: %v", err)
	}
	if elig.Eligible {
		t.Error("expected patient with an open hold to be ineligible")
	}
}
