package common

import (
	"errors"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module is currently paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the named module is paused. A nil view
// or empty module name never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a mutable PauseView. The zero value is ready to use and reports
// every module as running.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// SetPaused marks the named module as paused or running.
func (p *PauseSet) SetPaused(module string, paused bool) {
	if p == nil || module == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused == nil {
		p.paused = make(map[string]bool)
	}
	if paused {
		p.paused[module] = true
		return
	}
	delete(p.paused, module)
}

// IsPaused implements the PauseView interface.
func (p *PauseSet) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}
