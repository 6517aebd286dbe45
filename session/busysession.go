package session

import (
	"context"
	"sync"

	"github.com/kilnrun/kiln/batcher"
	"github.com/kilnrun/kiln/ml"
)

// BusySession wraps one in-flight Task for a Session, per spec.md §4.6. The
// session's cache is unavailable (s.cache == nil) for the BusySession's
// lifetime; Cancel, or Decode at end of stream, returns it.
//
// Go has no destructor to model spec.md's "on BusySession drop" — the
// unexported close, reached through Cancel or Decode, is the idiomatic
// substitute for Rust's Drop used throughout this module. Decode closes the
// session itself once it observes end-of-stream, so the common "loop Decode
// until false" usage needs no separate call; only early abandonment (the
// caller stops calling Decode before EOS) needs an explicit Cancel.
type BusySession struct {
	session *Session
	task    *batcher.Task

	once sync.Once
}

func (bs *BusySession) Decode(ctx context.Context) (string, bool, error) {
	select {
	case tok, ok := <-bs.task.Out:
		if !ok {
			bs.close()
			return "", false, nil
		}
		if tok == bs.session.be.EOSToken() {
			bs.close()
			return "", false, nil
		}
		return bs.session.tok.Decode(tok), true, nil
	case <-ctx.Done():
		bs.close()
		return "", false, ctx.Err()
	}
}

// Cancel closes the task early, equivalent to spec.md §5's "dropping a
// BusySession" cancellation path. Safe to call multiple times or after
// Decode has already closed the session.
func (bs *BusySession) Cancel() { bs.close() }

func (bs *BusySession) close() {
	bs.once.Do(func() {
		close(bs.task.Done)
		<-bs.task.Retired // the Dispatcher's current step must finish touching Cache first

		cache := bs.task.Cache
		session := bs.session

		session.mu.Lock()
		defer session.mu.Unlock()

		dialogTokens := session.dialog.NumTokens()
		if cacheLen := cache.Len(); cacheLen > dialogTokens {
			// Treat whatever the Dispatcher produced before closing as a
			// completed assistant sentence, so both natural EOS completion
			// and early cancellation leave a consistent dialog (spec.md
			// §4.6, §8 property 2). The Dispatcher already pushed a real
			// EOS onto the cache when Decode's own read is what observed
			// it; only synthesize one here when generation stopped without
			// ever sampling one (the Cancel path).
			generated := append([]ml.Token{}, cache.SliceTail(dialogTokens)...)
			eos := session.be.EOSToken()
			if len(generated) == 0 || generated[len(generated)-1] != eos {
				cache.Push(eos)
				generated = append(generated, eos)
			}
			session.dialog.Push(generated)
		}

		cache.CleanupBeforeStart()
		session.cache = cache
	})
}
