package logging

import "strings"

/**
Severity levels for captured log messages. The numeric values deliberately
match the scheme used by common log viewers (10/20/30/40/50) so that archived
databases remain readable by existing tooling.
*/
type Severity int

const (
	SEVERITY_DEBUG    Severity = 10
	SEVERITY_INFO     Severity = 20
	SEVERITY_WARNING  Severity = 30
	SEVERITY_ERROR    Severity = 40
	SEVERITY_CRITICAL Severity = 50
)

func (s Severity) String() string {
	switch s {
	case SEVERITY_DEBUG:
		return "DEBUG"
	case SEVERITY_INFO:
		return "INFO"
	case SEVERITY_WARNING:
		return "WARNING"
	case SEVERITY_ERROR:
		return "ERROR"
	case SEVERITY_CRITICAL:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

/**
parse a severity name, tolerating case and surrounding whitespace.
unrecognised names fall back to INFO rather than failing, so that a
misbehaving child cannot poison the log pipeline
*/
func SeverityFromString(from string) Severity {
	switch strings.ToUpper(strings.TrimSpace(from)) {
	case "DEBUG":
		return SEVERITY_DEBUG
	case "INFO":
		return SEVERITY_INFO
	case "WARNING":
		return SEVERITY_WARNING
	case "ERROR":
		return SEVERITY_ERROR
	case "CRITICAL":
		return SEVERITY_CRITICAL
	default:
		return SEVERITY_INFO
	}
}

/**
metric name under which messages of this severity are counted, e.g. msg_error
*/
func (s Severity) CounterName() string {
	return "msg_" + strings.ToLower(s.String())
}

func AllSeverities() []Severity {
	return []Severity{
		SEVERITY_DEBUG,
		SEVERITY_INFO,
		SEVERITY_WARNING,
		SEVERITY_ERROR,
		SEVERITY_CRITICAL,
	}
}
