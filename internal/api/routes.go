package api

import (
	"net/http"

	"github.com/ledgerworks/factura/internal/pipeline"
	"github.com/ledgerworks/factura/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	runtime *Runtime,
) {
	pipelineHandler := pipeline.NewHandler(
		domain.Pipeline,
		domain.Pool,
		domain.Files,
		runtime.Logger,
	)

	routes.Register(
		mux,
		domain.Invoices.Handler().Routes(),
		pipelineHandler.Routes(),
	)
}
