package report

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/insurance-engine/detection"
	"github.com/warp/insurance-engine/hr"
)

// ExportRow is one APPROVED or ADJUSTED record as handed to the sink.
type ExportRow struct {
	RecordID        string
	EmployeeID      string
	EmployeeCode    string
	EmployeeName    string
	ChangeType      detection.ChangeType
	Reason          detection.Reason
	EffectiveDate   string
	InsuranceSalary decimal.Decimal
	Coverage        hr.Coverage
	ApprovalStatus  ApprovalStatus
	AdjustReason    string
	ContractID      string
	AppendixID      string
}

// ExportSink turns a row-set into a document and returns where it lives.
// Writing the same report twice overwrites the previous artifact.
type ExportSink interface {
	Write(ctx context.Context, r Report, rows []ExportRow) (location string, err error)
}
