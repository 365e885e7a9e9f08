package session

import (
	"context"
	"sync"
)

type lazyFactory struct {
	build func() (Factory, error)

	mu      sync.Mutex
	factory Factory
	err     error
	done    bool
}

// Lazy defers build until the first Open, so commands that never browse do not start a browser.
// A failed build is remembered and returned by every later Open.
func Lazy(build func() (Factory, error)) Factory {
	return &lazyFactory{build: build}
}

func (l *lazyFactory) Open(ctx context.Context) (Session, error) {
	l.mu.Lock()
	if !l.done {
		l.factory, l.err = l.build()
		l.done = true
	}
	factory, err := l.factory, l.err
	l.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return factory.Open(ctx)
}

func (l *lazyFactory) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.factory == nil {
		return nil
	}
	return l.factory.Close()
}
