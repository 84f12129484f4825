package busrpc

import (
	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

var (
	MetricCallsSent        = []string{"busrpc", "client", "calls", "sent", "count"}
	MetricCallTimeouts     = []string{"busrpc", "client", "calls", "timeout", "count"}
	MetricCallRemoteErrors = []string{"busrpc", "client", "calls", "remote", "error", "count"}
	MetricRepliesDropped   = []string{"busrpc", "client", "replies", "dropped", "count"}
	MetricListenerRestarts = []string{"busrpc", "client", "listener", "restart", "count"}

	MetricDeliveries       = []string{"busrpc", "server", "deliveries", "count"}
	MetricConsumerNotFound = []string{"busrpc", "server", "consumer", "notfound", "count"}
	MetricHandlerErrors    = []string{"busrpc", "server", "handler", "error", "count"}
	MetricHandlerDuration  = []string{"busrpc", "server", "handler", "duration", "ms"}
	MetricReplyErrors      = []string{"busrpc", "server", "reply", "error", "count"}
	MetricAckErrors        = []string{"busrpc", "server", "ack", "error", "count"}
)

type TelemetryLabel string

var (
	LabelConsumer      TelemetryLabel = "consumer"
	LabelQueue         TelemetryLabel = "queue"
	LabelCorrelationID TelemetryLabel = "correlation_id"
)

// M returns the label as a metric label.
func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// L returns the label as a log field.
func (lab TelemetryLabel) L(val string) zap.Field {
	return zap.String(string(lab), val)
}
