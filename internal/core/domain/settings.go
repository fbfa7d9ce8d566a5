package domain

// SettingsStorageKey is the fixed key the persisted settings subset is stored
// under, regardless of backend.
const SettingsStorageKey = "event-broker-devtools:settings"

type DockPosition string

const (
	DockLeft   DockPosition = "left"
	DockRight  DockPosition = "right"
	DockTop    DockPosition = "top"
	DockBottom DockPosition = "bottom"
)

type PanelTab string

const (
	TabEvents  PanelTab = "events"
	TabClients PanelTab = "clients"
	TabMetrics PanelTab = "metrics"
	TabSend    PanelTab = "send"
)

// Filter is a compound inclusion filter. An empty set on any axis means no
// filtering on that axis.
type Filter struct {
	Types      []string         `json:"types,omitempty"`
	Sources    []string         `json:"sources,omitempty"`
	Recipients []string         `json:"recipients,omitempty"`
	Statuses   []DeliveryStatus `json:"statuses,omitempty"`
}

// Matches reports whether the record passes every axis of the filter.
func (f Filter) Matches(rec EventRecord) bool {
	if len(f.Types) > 0 && !containsString(f.Types, rec.Type) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, rec.Source) {
		return false
	}
	if len(f.Recipients) > 0 && !containsString(f.Recipients, rec.Recipient) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == rec.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Settings is the user-controlled state. Everything except Open survives
// across sessions via the settings repository.
type Settings struct {
	Open           bool         `json:"open"`
	Position       DockPosition `json:"position"`
	ActiveTab      PanelTab     `json:"active_tab"`
	Filter         Filter       `json:"filter"`
	MaxHistory     int          `json:"max_history"`
	AutoScroll     bool         `json:"auto_scroll"`
	ShowTimestamps bool         `json:"show_timestamps"`
}

func DefaultSettings() Settings {
	return Settings{
		Open:           false,
		Position:       DockBottom,
		ActiveTab:      TabEvents,
		MaxHistory:     1000,
		AutoScroll:     true,
		ShowTimestamps: true,
	}
}

// SettingsPatch carries a partial settings update; nil fields are left
// untouched by Apply.
type SettingsPatch struct {
	Open           *bool         `json:"open,omitempty"`
	Position       *DockPosition `json:"position,omitempty"`
	ActiveTab      *PanelTab     `json:"active_tab,omitempty"`
	Filter         *Filter       `json:"filter,omitempty"`
	MaxHistory     *int          `json:"max_history,omitempty"`
	AutoScroll     *bool         `json:"auto_scroll,omitempty"`
	ShowTimestamps *bool         `json:"show_timestamps,omitempty"`
}

// Apply merges the patch into a copy of the settings and returns it.
func (s Settings) Apply(p SettingsPatch) Settings {
	if p.Open != nil {
		s.Open = *p.Open
	}
	if p.Position != nil {
		s.Position = *p.Position
	}
	if p.ActiveTab != nil {
		s.ActiveTab = *p.ActiveTab
	}
	if p.Filter != nil {
		s.Filter = *p.Filter
	}
	if p.MaxHistory != nil {
		s.MaxHistory = *p.MaxHistory
	}
	if p.AutoScroll != nil {
		s.AutoScroll = *p.AutoScroll
	}
	if p.ShowTimestamps != nil {
		s.ShowTimestamps = *p.ShowTimestamps
	}
	return s
}

// PersistedSettings is the subset written to durable storage. The event log
// and counters are never persisted.
type PersistedSettings struct {
	Position       DockPosition `json:"position"`
	ActiveTab      PanelTab     `json:"active_tab"`
	Filter         Filter       `json:"filter"`
	MaxHistory     int          `json:"max_history"`
	AutoScroll     bool         `json:"auto_scroll"`
	ShowTimestamps bool         `json:"show_timestamps"`
}

// Persisted extracts the durable subset of the settings.
func (s Settings) Persisted() PersistedSettings {
	return PersistedSettings{
		Position:       s.Position,
		ActiveTab:      s.ActiveTab,
		Filter:         s.Filter,
		MaxHistory:     s.MaxHistory,
		AutoScroll:     s.AutoScroll,
		ShowTimestamps: s.ShowTimestamps,
	}
}

// Restore overlays a persisted subset onto the settings, keeping Open as is.
func (s Settings) Restore(p PersistedSettings) Settings {
	s.Position = p.Position
	s.ActiveTab = p.ActiveTab
	s.Filter = p.Filter
	if p.MaxHistory > 0 {
		s.MaxHistory = p.MaxHistory
	}
	s.AutoScroll = p.AutoScroll
	s.ShowTimestamps = p.ShowTimestamps
	return s
}
