package breaker

import "sync"

// Registry hands out one breaker per upstream site, created on first use.
type Registry struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(s Settings) *Registry {
	return &Registry{settings: s, breakers: make(map[string]*Breaker)}
}

func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.settings)
		r.breakers[name] = b
	}
	return b
}

// States snapshots the state of every breaker created so far.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make(map[string]State, len(list))
	for _, b := range list {
		out[b.Name()] = b.State()
	}
	return out
}
