package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcharr_stage_transitions_total",
		Help: "Stage transitions committed, labelled by destination state.",
	}, []string{"to"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcharr_stage_failures_total",
		Help: "Stage failures recorded, labelled by failure kind.",
	}, []string{"kind"})
)
