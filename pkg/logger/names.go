package logger

const (
	Main      = "main"
	Dplane    = "dplane"
	Provider  = "provider"
	Dataplane = "dataplane"
	FPM       = "fpm"
	Kernel    = "kernel"
	Gateway   = "gateway"
	Metrics   = "metrics"

	ProviderConn      = Provider + ".conn"
	ProviderEvents    = Provider + ".events"
	ProviderTranslate = Provider + ".translate"
)
