package domain

type FailureKind string

const (
	FailureConnectivity       FailureKind = "connectivity"
	FailureTimeout            FailureKind = "timeout"
	FailureServerError        FailureKind = "server_error"
	FailureUnexpectedStatus   FailureKind = "unexpected_status"
	FailureDegradedLatency    FailureKind = "degraded_latency"
	FailureValidationMismatch FailureKind = "validation_mismatch"
	FailureTestFailed         FailureKind = "test_failed"
)

// severityTable is the single source of severities: category x failure kind.
// A connectivity failure to a required dependency is always critical.
var severityTable = map[Category]map[FailureKind]Severity{
	CategoryDatabase: {
		FailureConnectivity:       SeverityCritical,
		FailureTimeout:            SeverityCritical,
		FailureServerError:        SeverityCritical,
		FailureUnexpectedStatus:   SeverityHigh,
		FailureDegradedLatency:    SeverityMedium,
		FailureValidationMismatch: SeverityMedium,
		FailureTestFailed:         SeverityHigh,
	},
	CategoryBackend: {
		FailureConnectivity:       SeverityCritical,
		FailureTimeout:            SeverityCritical,
		FailureServerError:        SeverityCritical,
		FailureUnexpectedStatus:   SeverityHigh,
		FailureDegradedLatency:    SeverityMedium,
		FailureValidationMismatch: SeverityMedium,
		FailureTestFailed:         SeverityHigh,
	},
	CategoryFrontend: {
		FailureConnectivity:       SeverityCritical,
		FailureTimeout:            SeverityHigh,
		FailureServerError:        SeverityHigh,
		FailureUnexpectedStatus:   SeverityHigh,
		FailureDegradedLatency:    SeverityMedium,
		FailureValidationMismatch: SeverityLow,
		FailureTestFailed:         SeverityMedium,
	},
	CategoryIntegration: {
		FailureConnectivity:       SeverityCritical,
		FailureTimeout:            SeverityHigh,
		FailureServerError:        SeverityHigh,
		FailureUnexpectedStatus:   SeverityHigh,
		FailureDegradedLatency:    SeverityMedium,
		FailureValidationMismatch: SeverityMedium,
		FailureTestFailed:         SeverityHigh,
	},
}

// SeverityFor looks up the severity for a failure. Unknown combinations are medium.
func SeverityFor(category Category, kind FailureKind) Severity {
	if kinds, ok := severityTable[category]; ok {
		if sev, ok := kinds[kind]; ok {
			return sev
		}
	}
	return SeverityMedium
}

// requiredFields are the fields whose absence breaks the OAuth flow outright
var requiredFields = map[string]bool{
	"api_key":    true,
	"api_secret": true,
	"user_id":    true,
	"oauth_url":  true,
	"state":      true,
}

// SeverityForField grades a validation error by the field it names
func SeverityForField(field string) Severity {
	if requiredFields[field] {
		return SeverityHigh
	}
	return SeverityMedium
}
