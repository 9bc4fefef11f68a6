package cmd

import (
	"context"
	"os"
	"time"

	"StemForge/cache"
	"StemForge/core/mix"
	"StemForge/core/render"
	"StemForge/model"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// phaseProgress is a terminal progress bar that also feeds the Redis counters.
type phaseProgress struct {
	ctx      context.Context
	p        *mpb.Progress
	bar      *mpb.Bar
	last     time.Time
	recorder *cache.ProgressRecorder
}

func newPhaseProgress(ctx context.Context, name string, total int, recorder *cache.ProgressRecorder) *phaseProgress {
	p := mpb.NewWithContext(ctx, mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(name+": "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)
	return &phaseProgress{ctx: ctx, p: p, bar: bar, last: time.Now(), recorder: recorder}
}

func (pp *phaseProgress) advance(n int) {
	if n <= 0 {
		return
	}
	pp.bar.EwmaIncrBy(n, time.Since(pp.last))
	pp.last = time.Now()
}

// Wait drops an unfinished bar and waits for the final redraw.
func (pp *phaseProgress) Wait() {
	if !pp.bar.Completed() {
		pp.bar.Abort(false)
	}
	pp.p.Wait()
}

// renderProgress observes the render scheduler.
type renderProgress struct {
	*phaseProgress
}

func newRenderProgress(ctx context.Context, total int, recorder *cache.ProgressRecorder) *renderProgress {
	return &renderProgress{newPhaseProgress(ctx, "render", total, recorder)}
}

func (r *renderProgress) JobFinished(patch string, job model.RenderJob, outcome render.Outcome) {
	r.advance(1)
	r.recorder.Incr(r.ctx, cache.RenderField(string(outcome)), 1)
}

func (r *renderProgress) BucketAborted(patch string, remaining int, err error) {
	r.advance(remaining)
	r.recorder.Incr(r.ctx, cache.RenderField(string(render.OutcomeFailed)), int64(remaining))
}

// mixProgress follows a mix pass.
type mixProgress struct {
	*phaseProgress
}

func newMixProgress(ctx context.Context, total int, recorder *cache.ProgressRecorder) *mixProgress {
	return &mixProgress{newPhaseProgress(ctx, "mix", total, recorder)}
}

func (m *mixProgress) TrackFinished(trackDir string, outcome mix.Outcome, err error) {
	m.advance(1)
	m.recorder.Incr(m.ctx, cache.MixField(string(outcome)), 1)
}
