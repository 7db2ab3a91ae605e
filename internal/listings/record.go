package listings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// WireID accepts listing identifiers sent as JSON numbers or strings.
type WireID string

func (id *WireID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*id = WireID(strings.TrimSpace(text))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("listings: id must be a number or string: %w", err)
	}
	*id = WireID(number.String())
	return nil
}

// RoomImage is one photo attached to a remote room.
type RoomImage struct {
	ID        int64  `json:"id,omitempty"`
	URL       string `json:"url"`
	Thumbnail bool   `json:"thumbnail"`
	SortOrder int    `json:"sortOrder"`
}

// RoomRecord is the room document served by the remote catalog. Money fields
// are in won.
type RoomRecord struct {
	RoomID                WireID      `json:"roomId,omitempty"`
	ID                    WireID      `json:"id,omitempty"`
	Title                 string      `json:"title,omitempty"`
	Address               string      `json:"address,omitempty"`
	Latitude              *float64    `json:"latitude,omitempty"`
	Longitude             *float64    `json:"longitude,omitempty"`
	MonthlyRent           int64       `json:"monthlyRent"`
	Deposit               int64       `json:"deposit"`
	MaintenanceFee        int64       `json:"maintenanceFee"`
	RoomType              string      `json:"roomType,omitempty"`
	AreaM2                float64     `json:"areaM2"`
	RoomCount             int         `json:"roomCount"`
	BathroomCount         int         `json:"bathroomCount"`
	Direction             string      `json:"direction,omitempty"`
	HeatingType           string      `json:"heatingType,omitempty"`
	EntranceType          string      `json:"entranceType,omitempty"`
	BuildingUse           string      `json:"buildingUse,omitempty"`
	ApprovalDate          string      `json:"approvalDate,omitempty"`
	Floor                 *int        `json:"floor,omitempty"`
	ParkingAvailable      *bool       `json:"parkingAvailable,omitempty"`
	TotalParkingSpots     *int        `json:"totalParkingSpots,omitempty"`
	AvailableFrom         string      `json:"availableFrom,omitempty"`
	Description           string      `json:"description,omitempty"`
	Options               []string    `json:"options,omitempty"`
	SecurityFacilities    []string    `json:"securityFacilities,omitempty"`
	LandlordName          string      `json:"landlordName,omitempty"`
	LandlordPhone         string      `json:"landlordPhone,omitempty"`
	LandlordBusinessRegNo string      `json:"landlordBusinessRegNo,omitempty"`
	Images                []RoomImage `json:"images,omitempty"`
	CreatedAt             string      `json:"createdAt,omitempty"`
	UpdatedAt             string      `json:"updatedAt,omitempty"`
}

// Identifier prefers roomId over id.
func (r RoomRecord) Identifier() string {
	if r.RoomID != "" {
		return string(r.RoomID)
	}
	return string(r.ID)
}
