package stream

import "encoding/json"

// saveFallback and loadFallback provide the in-process substitute for
// Redis-backed context storage when the cache is disabled, mirroring the
// JSON-serialized storage shape internal/cache.Cache uses so switching
// the cache on/off never changes the stored representation.
func (m *Manager) saveFallback(id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.fallbackMu.Lock()
	defer m.fallbackMu.Unlock()
	m.fallback[id] = data
	return nil
}

func (m *Manager) loadFallback(id string, target any) (bool, error) {
	m.fallbackMu.Lock()
	data, ok := m.fallback[id]
	m.fallbackMu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, err
	}
	return true, nil
}
