package models

import (
	"time"
)

type Presence struct {
	SerialNumber string    `json:"serial_number"`
	DeviceID     int64     `json:"device_id"`
	Status       string    `json:"status"`
	LastSeen     time.Time `json:"last_seen"`
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)
