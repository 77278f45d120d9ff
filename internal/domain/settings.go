package domain

// Settings are the user preferences that survive a restart.
type Settings struct {
	APIURL       string `json:"apiUrl"`
	AutoDownload bool   `json:"autoDownload"`
	MaxHistory   int    `json:"maxHistory"`
}
