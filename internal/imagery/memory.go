package imagery

import (
	"context"
	"sync"

	"github.com/sells-group/landcover-cli/internal/geometry"
)

// MemorySource serves scenes held in memory.
type MemorySource struct {
	mu     sync.RWMutex
	scenes []Scene
}

// NewMemorySource returns a source over scenes.
func NewMemorySource(scenes ...Scene) *MemorySource {
	return &MemorySource{scenes: scenes}
}

// Add appends scenes to the source.
func (m *MemorySource) Add(scenes ...Scene) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenes = append(m.scenes, scenes...)
}

// Fetch implements Source.
func (m *MemorySource) Fetch(_ context.Context, sensorID string, dates DateRange, region *geometry.Region, bands []string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Scene
	for _, s := range m.scenes {
		if s.Sensor != sensorID || !dates.Contains(s.Acquired) || !region.Intersects(s.Raster.Bounds()) {
			continue
		}
		sel, err := selectBands(s, bands)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return NewCollection(sensorID, out), nil
}
