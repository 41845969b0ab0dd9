package internal

import "expvar"

var (
	webhooksTotal  = expvar.NewMap("depsync_webhooks_total")
	syncsTotal     = expvar.NewMap("depsync_syncs_total")
	callbacksTotal = expvar.NewMap("depsync_callbacks_total")
	enqueueErrors  = expvar.NewMap("depsync_enqueue_errors_total")
	publishErrors  = expvar.NewMap("depsync_publish_errors_total")
)

func IncWebhook(provider string) {
	webhooksTotal.Add(provider, 1)
}

func IncSync(outcome string) {
	syncsTotal.Add(outcome, 1)
}

func IncCallback(requestType string) {
	callbacksTotal.Add(requestType, 1)
}

func IncEnqueueError(queue string) {
	enqueueErrors.Add(queue, 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}
