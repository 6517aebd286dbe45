package session

import (
	"context"
	"sync"

	"github.com/kilnrun/kiln/backend"
	"github.com/kilnrun/kiln/batcher"
	"github.com/kilnrun/kiln/dispatcher"
	"github.com/kilnrun/kiln/ml"
	"github.com/kilnrun/kiln/tokenizer"
)

// Generator is spec.md §4.6's single-shot raw-prompt streaming variant: same
// submit/stream path as Session/BusySession, but no dialog and no persisted
// cache to return — a Generator is used once and discarded.
type Generator struct {
	be   backend.Backend
	tok  tokenizer.Tokenizer
	task *batcher.Task

	once sync.Once
}

// NewGenerator tokenizes prompt (already normalized by the caller, since a
// raw generator has no chat template to decide bos/eos placement around),
// submits it to disp, and returns a streaming handle.
func NewGenerator(be backend.Backend, tok tokenizer.Tokenizer, disp *dispatcher.Dispatcher, prompt []ml.Token, sample backend.SampleMeta) *Generator {
	cache := be.NewCache()
	cache.Extend(prompt)

	task := batcher.NewTask(cache, sample)
	disp.Submit(task)

	return &Generator{be: be, tok: tok, task: task}
}

func (g *Generator) Decode(ctx context.Context) (string, bool, error) {
	select {
	case tok, ok := <-g.task.Out:
		if !ok {
			g.close()
			return "", false, nil
		}
		if tok == g.be.EOSToken() {
			g.close()
			return "", false, nil
		}
		return g.tok.Decode(tok), true, nil
	case <-ctx.Done():
		g.close()
		return "", false, ctx.Err()
	}
}

// Cancel ends generation early.
func (g *Generator) Cancel() { g.close() }

func (g *Generator) close() {
	g.once.Do(func() {
		close(g.task.Done)
	})
}
