package incidents

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	incidentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incidentledger",
		Subsystem: "incidents",
		Name:      "created_total",
		Help:      "Number of incidents reported",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "incidentledger",
		Subsystem: "incidents",
		Name:      "status_transitions_total",
		Help:      "Number of status transitions by from/to state",
	}, []string{"from", "to"})

	statusConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incidentledger",
		Subsystem: "incidents",
		Name:      "status_conflict_retries_total",
		Help:      "Number of status updates retried after a concurrent change",
	})

	incidentsCommented = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incidentledger",
		Subsystem: "incidents",
		Name:      "comments_total",
		Help:      "Number of comments added to incidents",
	})
)
