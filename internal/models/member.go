package models

// Member is one roster entry: a non-bot member of the tracked guild.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
