package daemon

import (
	"github.com/harun/umile/internal/config"
	"github.com/harun/umile/pkg/dispatcher"
	"github.com/harun/umile/pkg/flow"
)

func dispatcherTemplates(m config.MessagesConfig) dispatcher.Templates {
	return dispatcher.Templates{
		Success:      m.Success,
		Failure:      m.Failure,
		MissingInput: m.MissingInput,
		Ack:          m.Ack,
		Unavailable:  m.Unavailable,
	}.WithDefaults()
}

func flowMessages(m config.MessagesConfig) flow.Messages {
	return flow.Messages{
		Completed: m.Completed,
		Timeout:   m.Timeout,
		Critical:  m.Critical,
		Generic:   m.Generic,
	}.WithDefaults()
}

// applyConfig installs reloaded message texts. Other settings need a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	d.dispatcher.SetTemplates(dispatcherTemplates(cfg.Messages))
	d.runner.SetMessages(flowMessages(cfg.Messages))
	d.logger.Info().Msg("Message templates reloaded")
}
