package rules

import (
	"go.uber.org/zap"
)

// Registry maps pack ids to Pack implementations. Unknown ids fall back
// to the default pack, so a stale client asking for a pack this build
// does not carry still gets a playable room.
type Registry struct {
	packs     map[string]Pack
	defaultID string
	log       *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		packs: make(map[string]Pack),
		log:   log,
	}
}

// Register adds a pack. The first registered pack becomes the default.
func (r *Registry) Register(p Pack) {
	id := p.PackID()
	if _, dup := r.packs[id]; dup {
		r.log.Warn("pack id registered twice, replacing", zap.String("pack", id))
	}
	r.packs[id] = p
	if r.defaultID == "" {
		r.defaultID = id
	}
}

// Get resolves a pack id. An empty or unknown id yields the default
// pack; ok reports whether the id resolved exactly.
func (r *Registry) Get(id string) (Pack, bool) {
	if p, ok := r.packs[id]; ok {
		return p, true
	}
	if r.defaultID == "" {
		return nil, false
	}
	if id != "" {
		r.log.Warn("unknown pack id, using default",
			zap.String("requested", id),
			zap.String("default", r.defaultID),
		)
	}
	return r.packs[r.defaultID], false
}

// IDs lists the registered pack ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.packs))
	for id := range r.packs {
		ids = append(ids, id)
	}
	return ids
}
