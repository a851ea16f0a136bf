package app

import "github.com/v2fin/backoffice/internal/services"

// JobServiceConfig converts InvoiceConfig into the parameters expected by the job service.
func (c InvoiceConfig) JobServiceConfig() services.JobServiceConfig {
	return services.JobServiceConfig{
		Workers:     c.Workers,
		EntityDelay: c.EntityDelay,
		OutputRoot:  c.OutputDir,
		StuckAfter:  c.StuckAfter,
	}
}
