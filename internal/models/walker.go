package models

// Walker progress status. Only the two resumable states are persisted; a
// finished walk clears its state instead of storing a terminal marker.
const (
	WalkerStatusRunning = "running"
	WalkerStatusPaused  = "paused"
)

// WalkerState is the resumable progress of a ratings-listing walk. It is
// persisted after every completed page so an interrupted walk continues from
// NextPage instead of restarting.
type WalkerState struct {
	Status       string `json:"status"`
	UserSlug     string `json:"userSlug"`
	NextPage     int    `json:"nextPage"`
	TargetPages  int    `json:"targetPages"`
	LoadedPages  int    `json:"loadedPages"`
	TotalParsed  int    `json:"totalParsed"`
	TotalRatings int    `json:"totalRatings"`
	PauseReason  string `json:"pauseReason,omitempty"`
}

// SyncSettings is the persisted cloud-sync configuration for one user.
type SyncSettings struct {
	Enabled     bool   `json:"enabled"`
	AccessToken string `json:"accessToken"`
}
