package main

import (
	"fmt"
	"net/http"

	"github.com/Cloud-Foundations/abupdate/lib/bootslot"
	"github.com/Cloud-Foundations/abupdate/lib/fetcher"
	liblog "github.com/Cloud-Foundations/abupdate/lib/log"
	"github.com/Cloud-Foundations/abupdate/lib/pipeline"
	"github.com/Cloud-Foundations/abupdate/lib/prefs"
	"github.com/Cloud-Foundations/abupdate/lib/sign"
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

// newPipelineFactory returns an attempter.PipelineFactory that builds one
// Pipeline per InstallPlan payload, each running a single
// download-then-apply action, chained into a Processor (spec.md sec.4.4).
func newPipelineFactory(hal bootslot.HAL, store *prefs.Store, certBundle *sign.CertificateBundle, logger liblog.DebugLogger) func(plan *update.InstallPlan) (*pipeline.Processor, error) {
	if logger == nil {
		logger = liblog.Discard()
	}
	return func(plan *update.InstallPlan) (*pipeline.Processor, error) {
		if len(plan.Payloads) == 0 {
			return nil, fmt.Errorf("update-engine: install plan has no payloads")
		}
		pipelines := make([]*pipeline.Pipeline, len(plan.Payloads))
		for i := range plan.Payloads {
			action := &downloadApplyAction{
				payloadIndex: i,
				plan:         plan,
				hal:          hal,
				certBundle:   certBundle,
				fetch:        fetcher.NewHTTPFetcher(http.DefaultClient, logger),
				store:        store,
				logger:       logger,
			}
			pipelines[i] = pipeline.New([]pipeline.Action{action}, 0, nil)
		}
		return pipeline.NewProcessor(pipelines, 0), nil
	}
}
