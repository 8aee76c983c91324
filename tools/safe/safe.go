package safe

import (
	"ChatWave/logger"
)

// Go starts a goroutine that recovers from panic, so a bad frame or a
// misbehaving store callback cannot take the whole gateway down.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
