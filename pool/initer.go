package pool

// Init asynchronously tops up the free list to n resources, stopping
// early if the hard cap is reached. A later Init or a Release
// supersedes an in-flight one.
func (p *Pool[R]) Init(n int) {
	p.mu.Lock()
	p.initGen++
	gen := p.initGen
	p.initRunning = true
	p.mu.Unlock()

	go p.runInit(gen, n)
}

func (p *Pool[R]) stopInitLocked() {
	p.initGen++
}

func (p *Pool[R]) staleInit(gen uint64) bool {
	return p.released || gen != p.initGen
}

func (p *Pool[R]) runInit(gen uint64, n int) {
	for {
		p.mu.Lock()
		if p.staleInit(gen) {
			p.initRunning = false
			p.mu.Unlock()
			return
		}
		hardCapReached := p.maxSize > 0 && len(p.free)+len(p.used) >= p.maxSize
		if len(p.free) >= n || hardCapReached {
			p.initRunning = false
			p.emitLocked(InitCompleted)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		resource, err := p.factory.Create()
		if err != nil {
			p.log.Warn().Err(err).Str("pool", p.name).Msg("init worker failed to create resource")
			p.mu.Lock()
			p.initRunning = false
			p.mu.Unlock()
			return
		}

		p.mu.Lock()
		if p.staleInit(gen) {
			p.destroy(resource)
			p.initRunning = false
			p.mu.Unlock()
			return
		}
		p.free = append(p.free, p.newEntryLocked(resource))
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}
