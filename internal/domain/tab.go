package domain

// TabType is the kind of UI tab.
type TabType string

const (
	TabTerminal      TabType = "terminal"
	TabSFTP          TabType = "sftp"
	TabSettings      TabType = "settings"
	TabNewConnection TabType = "newConnection"
)

// Valid reports whether t is a known tab type.
func (t TabType) Valid() bool {
	switch t {
	case TabTerminal, TabSFTP, TabSettings, TabNewConnection:
		return true
	}
	return false
}

// TabData carries the per-tab payload.
type TabData struct {
	ConnectionID string `json:"connectionId,omitempty"`
}

// Tab is one entry of the ordered tab list.
type Tab struct {
	Title string  `json:"title"`
	Type  TabType `json:"type"`
	Path  string  `json:"path"`
	Data  TabData `json:"data"`
}

// ConnectionID returns the connection the tab points at, if any.
func (t Tab) ConnectionID() string {
	return t.Data.ConnectionID
}
