package dto

// DashboardSummary aggregates a practitioner's dispatch and triage activity.
type DashboardSummary struct {
	OwnerID           string         `json:"ownerId"`
	DispatchesTotal   int            `json:"dispatchesTotal"`
	ByStatus          map[string]int `json:"byStatus"`
	ResponsesTotal    int            `json:"responsesTotal"`
	AverageScore      float64        `json:"averageScore"`
	CompletionRate    float64        `json:"completionRate"`
	AlertsTotal       int            `json:"alertsTotal"`
	AlertsUnresolved  int            `json:"alertsUnresolved"`
	ResolutionsByStep map[string]int `json:"resolutionsByStatus"`
	CriticalThreshold float64        `json:"criticalThreshold"`
}
