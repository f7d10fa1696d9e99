package flash

import (
	"strings"

	"github.com/harvester/usb-flasher/pkg/block"
	"github.com/harvester/usb-flasher/pkg/bootable"
	"github.com/harvester/usb-flasher/pkg/config"
	"github.com/harvester/usb-flasher/pkg/filter"
	"github.com/harvester/usb-flasher/pkg/metrics"
	"github.com/harvester/usb-flasher/pkg/option"
	"github.com/harvester/usb-flasher/pkg/tools"
	"github.com/harvester/usb-flasher/pkg/utils"
	"github.com/harvester/usb-flasher/pkg/writer"
)

// NewController wires the platform implementations described by cfg. CLI
// filter values are merged with the ones from the config file.
func NewController(cfg *config.Config, opt *option.Option, m *metrics.Metrics) *Controller {
	executor := utils.NewExecutor()
	executor.SetTimeout(cfg.Inventory.CommandTimeout)

	// Pipeline tools run for as long as they need.
	pipelineExecutor := utils.NewExecutor()

	prober := tools.NewProber(cfg.Tools)
	return &Controller{
		Enumerator: block.NewDefaultEnumerator(executor),
		ExcludeFilters: filter.SetExcludeFilters(
			mergeValues(opt.ModelFilter, cfg.Inventory.ExcludeModels),
			mergeValues(opt.PathFilter, cfg.Inventory.ExcludePaths),
			mergeValues(opt.MediaTypeFilter, cfg.Inventory.ExcludeMediaTypes),
		),
		Prober:  prober,
		Writer:  writer.NewWriter(cfg.Raw.ChunkSize),
		Builder: bootable.NewBuilder(pipelineExecutor, prober, cfg.Bootable),
		Metrics: m,
	}
}

func mergeValues(flag string, values []string) string {
	all := append([]string{}, values...)
	if flag != "" {
		all = append(all, flag)
	}
	return strings.Join(all, ",")
}
