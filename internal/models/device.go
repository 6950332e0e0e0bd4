package models

import (
	"time"
)

type Device struct {
	ID           int64      `json:"id"`
	MacAddress   string     `json:"mac_address"`
	SerialNumber string     `json:"serial_number"`
	LastContact  *time.Time `json:"last_contact,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
