package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yuriy-kovalchuk/dyndns/internal/dns"
)

var updateRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dyndns",
	Name:      "update_requests_total",
	Help:      "Counter of update requests by outcome.",
}, []string{"status"})

var providerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dyndns",
	Name:      "provider_operations_total",
	Help:      "Counter of DNS provider calls.",
}, []string{"operation", "type", "result"})

func observeOperation(op string, recordType dns.RecordType, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	providerOperations.WithLabelValues(op, string(recordType), result).Inc()
}
