package option

type Option struct {
	ConfigFile string

	Debug           bool
	Trace           bool
	LogFormat       string
	ProfilerAddress string

	ModelFilter     string
	PathFilter      string
	MediaTypeFilter string

	ListenAddress string
}
