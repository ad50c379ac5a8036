package models

// Race is one race event extracted from a listing page.
// Values are site-native text: Date looks like "Jan 31, 2026" and
// Location like "Austin, TX".
type Race struct {
	Date     string `json:"date"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// FetchResult is the raw outcome of fetching one listing page.
// An empty Content means the transport could not produce a usable page.
type FetchResult struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content,omitempty"`
	StatusCode int    `json:"status_code"`
}

// Empty reports whether the fetch produced no content.
func (r FetchResult) Empty() bool {
	return r.Content == ""
}

// TransportMode selects the transport implementation.
type TransportMode string

const (
	ModeHTTP    TransportMode = "http"
	ModeBrowser TransportMode = "browser"
)
