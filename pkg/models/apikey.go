package models

import "time"

// ApiKey is a stored API key. Only HashValue participates in verification;
// Prefix is public and used for lookup.
type ApiKey struct {
	Prefix    string    `json:"prefix"`
	HashValue string    `json:"-"`
	Name      string    `json:"name"`
	RateLimit int       `json:"rateLimit"` // requests per minute
	CreatedAt time.Time `json:"createdAt"`
}
