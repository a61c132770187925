package models

import (
	"strings"

	"github.com/google/uuid"
)

// Looper is a monitored subject and the Nightscout site their data lives on
type Looper struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	NightscoutURL string `json:"url"`
	APISecret     string `json:"-"`
	APIToken      string `json:"-"`
}

// NewLooper creates a looper whose id is derived from its Nightscout URL,
// so restarts keep the same id.
func NewLooper(name, nightscoutURL, apiSecret, apiToken string) Looper {
	url := strings.TrimRight(nightscoutURL, "/")
	return Looper{
		ID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String(),
		Name:          name,
		NightscoutURL: url,
		APISecret:     apiSecret,
		APIToken:      apiToken,
	}
}
