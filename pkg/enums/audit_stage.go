package enums

import "fmt"

// AuditStage names the pipeline stage an audit entry was recorded from.
type AuditStage string

const (
	AuditStageSignature AuditStage = "signature"
	AuditStageNormalize AuditStage = "normalize"
	AuditStageFraud     AuditStage = "fraud"
	AuditStageLedger    AuditStage = "ledger"
	AuditStageDispatch  AuditStage = "dispatch"
)

var validAuditStages = []AuditStage{
	AuditStageSignature,
	AuditStageNormalize,
	AuditStageFraud,
	AuditStageLedger,
	AuditStageDispatch,
}

// String implements fmt.Stringer.
func (s AuditStage) String() string {
	return string(s)
}

// IsValid reports whether the stage is recognized.
func (s AuditStage) IsValid() bool {
	for _, candidate := range validAuditStages {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAuditStage converts a raw string into an AuditStage.
func ParseAuditStage(value string) (AuditStage, error) {
	for _, candidate := range validAuditStages {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit stage %q", value)
}
