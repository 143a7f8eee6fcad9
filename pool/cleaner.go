package pool

import "time"

// startCleanerLocked supersedes any running cleaner and starts a new
// one at the given interval. Caller holds p.mu.
func (p *Pool[R]) startCleanerLocked(interval time.Duration) {
	p.cleanerGen++
	gen := p.cleanerGen
	p.cleanerRunning = true
	go p.runCleaner(gen, interval)
}

// stopCleanerLocked invalidates the currently running cleaner, if
// any, by bumping its generation. Caller holds p.mu.
func (p *Pool[R]) stopCleanerLocked() {
	p.cleanerGen++
	p.cond.Broadcast()
}

func (p *Pool[R]) staleCleaner(gen uint64) bool {
	return p.released || gen != p.cleanerGen
}

// runCleaner is the §4.2 loop: sweep expired free entries, trigger a
// top-up Init if the free list fell below minPool, then sleep. When a
// pass removes nothing and the pool is entirely empty, it waits on the
// condition instead of busy-sleeping.
func (p *Pool[R]) runCleaner(gen uint64, interval time.Duration) {
	removedLast := true
	for {
		p.mu.Lock()
		if p.staleCleaner(gen) {
			p.cleanerRunning = false
			p.mu.Unlock()
			return
		}

		if !removedLast && len(p.free) == 0 && len(p.used) == 0 {
			for !p.staleCleaner(gen) && len(p.free) == 0 && len(p.used) == 0 {
				p.cond.Wait()
			}
			if p.staleCleaner(gen) {
				p.cleanerRunning = false
				p.mu.Unlock()
				return
			}
		}

		now := time.Now()
		kept := p.free[:0]
		var expired []R
		for _, e := range p.free {
			if e.expired(now) {
				expired = append(expired, e.Resource)
			} else {
				kept = append(kept, e)
			}
		}
		p.free = kept
		removedLast = len(expired) > 0
		needInit := len(p.free) < p.minPool
		p.mu.Unlock()

		for _, r := range expired {
			p.destroy(r)
		}
		if needInit {
			p.Init(p.minPool)
		}

		time.Sleep(interval)
	}
}
