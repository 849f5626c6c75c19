package models

// TabInfo describes one connected browser tab. ConnectedAt is set on first
// sight of the tab id and survives later metadata updates.
type TabInfo struct {
	TabID       string `json:"tabId"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	ConnectedAt int64  `json:"connectedAt"`
}

// StorageSnapshot captures a tab's web storage at a point in time.
type StorageSnapshot struct {
	TS             int64             `json:"ts"`
	URL            string            `json:"url"`
	TabID          string            `json:"tabId,omitempty"`
	LocalStorage   map[string]string `json:"localStorage"`
	SessionStorage map[string]string `json:"sessionStorage"`
	Cookies        string            `json:"cookies,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s StorageSnapshot) Clone() StorageSnapshot {
	s.LocalStorage = cloneStringMap(s.LocalStorage)
	s.SessionStorage = cloneStringMap(s.SessionStorage)
	return s
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
