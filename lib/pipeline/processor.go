package pipeline

import "github.com/Cloud-Foundations/abupdate/proto/update"

// Processor chains several Pipelines (one per Payload in an InstallPlan,
// spec.md sec.4.4) so they run back-to-back, stopping at the first
// non-Success terminal code.
type Processor struct {
	pipelines []*Pipeline
	current   int
}

// NewProcessor returns a Processor over pipelines, starting at
// startPipeline (for resuming a multi-payload plan partway through).
func NewProcessor(pipelines []*Pipeline, startPipeline int) *Processor {
	return &Processor{pipelines: pipelines, current: startPipeline}
}

// Run executes each remaining Pipeline in order.
func (p *Processor) Run() (update.ErrorCode, error) {
	for p.current < len(p.pipelines) {
		code, err := p.pipelines[p.current].Run()
		if code != update.Success {
			return code, err
		}
		p.current++
	}
	return update.Success, nil
}

// Suspend suspends whichever Pipeline is currently running.
func (p *Processor) Suspend() error {
	if p.current >= len(p.pipelines) {
		return nil
	}
	return p.pipelines[p.current].Suspend()
}

// Resume resumes whichever Pipeline is currently running.
func (p *Processor) Resume() error {
	if p.current >= len(p.pipelines) {
		return nil
	}
	return p.pipelines[p.current].Resume()
}

// Terminate terminates whichever Pipeline is currently running.
func (p *Processor) Terminate() error {
	if p.current >= len(p.pipelines) {
		return nil
	}
	return p.pipelines[p.current].Terminate()
}
