package engine

// fixTemplate describes a known error family with a remediation playbook the
// fix workflow can propose automatically.
type fixTemplate struct {
	SuggestedFix    string
	FixType         string
	HasAutomatedFix bool
}

// fixTemplates keys on the exception class name extracted from the event.
// Families without a safe mechanical remediation stay manual.
var fixTemplates = map[string]fixTemplate{
	"NullPointerException": {
		SuggestedFix:    "Add null guard before dereference and return a typed error response",
		FixType:         "null-check",
		HasAutomatedFix: true,
	},
	"SQLException": {
		SuggestedFix:    "Wrap statement in retry with backoff and verify connection pool sizing",
		FixType:         "db-retry",
		HasAutomatedFix: true,
	},
	"RestClientException": {
		SuggestedFix:    "Add timeout, retry, and circuit breaker around the outbound call",
		FixType:         "http-resilience",
		HasAutomatedFix: true,
	},
	"OutOfMemoryError": {
		SuggestedFix:    "Capture heap dump and review allocation hot spots; requires capacity review",
		FixType:         "memory",
		HasAutomatedFix: false,
	},
	"BeanCreationException": {
		SuggestedFix:    "Check dependency wiring and missing configuration properties at startup",
		FixType:         "config",
		HasAutomatedFix: true,
	},
}

func templateFor(errorType string) (fixTemplate, bool) {
	tpl, ok := fixTemplates[errorType]
	return tpl, ok
}
