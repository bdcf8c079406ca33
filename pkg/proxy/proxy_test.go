package proxy_test

import (
	"testing"

	"github.com/downfa11-org/go-archiver/pkg/proxy"
)

type countingSink struct {
	started, progress, stopped int
}

func (c *countingSink) Started(int32, string, int32, string, int32) { c.started++ }

func (c *countingSink) Progress(_, _, _, _, _ int32) { c.progress++ }

func (c *countingSink) Stopped(int32) { c.stopped++ }

func TestTeeFansOutToAllSinks(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	p := proxy.Tee(a, b, proxy.LogProxy{})

	p.Started(1, "src", 7, "ch", 10)
	p.Progress(1, 0, 0, 2, 64)
	p.Progress(1, 0, 0, 3, 0)
	p.Stopped(1)

	for _, sink := range []*countingSink{a, b} {
		if sink.started != 1 || sink.progress != 2 || sink.stopped != 1 {
			t.Fatalf("sink counts = %d/%d/%d, want 1/2/1",
				sink.started, sink.progress, sink.stopped)
		}
	}
}
