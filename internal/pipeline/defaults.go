package pipeline

import (
	"loom/internal/services/automation"
	"loom/internal/services/provider"
)

// RegisterDefaults wires the production stage handlers: a real browser
// driver and the HTTP provider client.
func (o *Orchestrator) RegisterDefaults() error {
	driver, err := automation.NewExecDriver(o.cfg)
	if err != nil {
		return err
	}
	providerSvc, err := provider.New(o.cfg)
	if err != nil {
		return err
	}

	o.Register(NewProvisionHandler(o.cfg))
	o.Register(NewLoginHandler(o.cfg, driver, o.notifier))
	o.Register(NewExtractHandler(o.cfg, driver, providerSvc))
	o.Register(NewProjectHandler(providerSvc))
	o.Register(NewGenerateHandler(o.cfg, providerSvc, o.notifier))
	return nil
}
