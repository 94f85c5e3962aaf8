package api

import (
	"github.com/ledgerworks/factura/internal/companies"
	"github.com/ledgerworks/factura/internal/extraction"
	"github.com/ledgerworks/factura/internal/files"
	"github.com/ledgerworks/factura/internal/invoices"
	"github.com/ledgerworks/factura/internal/notify"
	"github.com/ledgerworks/factura/internal/pipeline"
	"github.com/ledgerworks/factura/pkg/runner"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Companies companies.System
	Invoices  invoices.System
	Files     files.System
	Pipeline  *pipeline.Orchestrator
	Pool      *runner.Pool
	Notify    *notify.Dispatcher
}

// NewDomain creates all domain systems from the API runtime. Pipeline
// instances run on a bounded pool that drains during shutdown.
func NewDomain(runtime *Runtime) *Domain {
	cfg := runtime.Config
	db := runtime.Database.Connection()

	companySys := companies.New(db, runtime.Logger)
	invoiceSys := invoices.New(db, runtime.Logger, runtime.Pagination)
	fileSys := files.New(db, runtime.Logger)

	dispatcher := notify.NewDispatcher(
		&cfg.Notify,
		notify.NewNotifier(&cfg.Notify),
		fileSys,
		runtime.Logger,
	)

	steps := runner.NewLocal(runtime.Logger, pipeline.Retryable)

	orchestrator := pipeline.New(
		&cfg.Pipeline,
		runtime.Storage,
		extraction.NewClient(&cfg.Extraction, runtime.Logger),
		companySys,
		invoiceSys,
		fileSys,
		dispatcher,
		steps,
		runtime.Logger,
	)

	pool := runner.NewPool(runtime.Lifecycle.Context(), cfg.Pipeline.MaxConcurrent)
	runtime.Lifecycle.OnShutdown(func() {
		<-runtime.Lifecycle.Context().Done()
		if err := pool.Wait(); err != nil {
			runtime.Logger.Warn("pipeline pool drained with error", "error", err)
		}
	})

	return &Domain{
		Companies: companySys,
		Invoices:  invoiceSys,
		Files:     fileSys,
		Pipeline:  orchestrator,
		Pool:      pool,
		Notify:    dispatcher,
	}
}
