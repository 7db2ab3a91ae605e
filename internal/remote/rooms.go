package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/konnection/roomstate/internal/listings"
)

// SearchParams filters the remote catalog. Zero values are omitted.
type SearchParams struct {
	Keyword        string
	Sort           string
	MinMonthlyRent int64
	MaxMonthlyRent int64
	MinDeposit     int64
	MaxDeposit     int64
}

func (p SearchParams) Values() url.Values {
	values := url.Values{}
	if keyword := strings.TrimSpace(p.Keyword); keyword != "" {
		values.Set("keyword", keyword)
	}
	if p.Sort != "" {
		values.Set("sort", p.Sort)
	}
	for name, value := range map[string]int64{
		"minMonthlyRent": p.MinMonthlyRent,
		"maxMonthlyRent": p.MaxMonthlyRent,
		"minDeposit":     p.MinDeposit,
		"maxDeposit":     p.MaxDeposit,
	} {
		if value > 0 {
			values.Set(name, strconv.FormatInt(value, 10))
		}
	}
	return values
}

// HasFilter reports whether anything beyond sorting was requested.
func (p SearchParams) HasFilter() bool {
	return strings.TrimSpace(p.Keyword) != "" || p.MinMonthlyRent > 0 || p.MaxMonthlyRent > 0 || p.MinDeposit > 0 || p.MaxDeposit > 0
}

// decodeRooms accepts a bare array or an object wrapping it in results.
func decodeRooms(body []byte) ([]listings.RoomRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []listings.RoomRecord{}, nil
	}
	if trimmed[0] == '[' {
		var rooms []listings.RoomRecord
		if err := json.Unmarshal(trimmed, &rooms); err != nil {
			return nil, fmt.Errorf("remote: decode rooms: %w", err)
		}
		return rooms, nil
	}
	var wrapped struct {
		Results []listings.RoomRecord `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("remote: decode rooms: %w", err)
	}
	if wrapped.Results == nil {
		return []listings.RoomRecord{}, nil
	}
	return wrapped.Results, nil
}

func (c *Client) ListRooms(ctx context.Context, sort string) ([]listings.RoomRecord, error) {
	query := url.Values{}
	if sort != "" {
		query.Set("sort", sort)
	}
	body, err := c.do(ctx, "rooms.list", jsonRequest(http.MethodGet, c.endpoint("/rooms", query), nil))
	if err != nil {
		return nil, err
	}
	return decodeRooms(body)
}

func (c *Client) SearchRooms(ctx context.Context, params SearchParams) ([]listings.RoomRecord, error) {
	body, err := c.do(ctx, "rooms.search", jsonRequest(http.MethodGet, c.endpoint("/rooms/search", params.Values()), nil))
	if err != nil {
		return nil, err
	}
	return decodeRooms(body)
}

func (c *Client) GetRoom(ctx context.Context, id string) (listings.RoomRecord, error) {
	body, err := c.do(ctx, "rooms.get", jsonRequest(http.MethodGet, c.endpoint("/rooms/"+url.PathEscape(id), nil), nil))
	if err != nil {
		return listings.RoomRecord{}, err
	}
	var record listings.RoomRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return listings.RoomRecord{}, fmt.Errorf("remote: decode room: %w", err)
	}
	return record, nil
}

// roomPayload is the JSON shape accepted by the rooms API. Money is in won.
type roomPayload struct {
	Address               string   `json:"address"`
	MonthlyRent           int64    `json:"monthlyRent"`
	Deposit               int64    `json:"deposit"`
	MaintenanceFee        int64    `json:"maintenanceFee"`
	RoomType              string   `json:"roomType"`
	AreaM2                float64  `json:"areaM2"`
	RoomCount             int      `json:"roomCount"`
	BathroomCount         int      `json:"bathroomCount"`
	Direction             string   `json:"direction,omitempty"`
	HeatingType           string   `json:"heatingType,omitempty"`
	EntranceType          string   `json:"entranceType,omitempty"`
	BuildingUse           string   `json:"buildingUse,omitempty"`
	ApprovalDate          string   `json:"approvalDate,omitempty"`
	Floor                 *int     `json:"floor,omitempty"`
	ParkingAvailable      bool     `json:"parkingAvailable"`
	TotalParkingSpots     int      `json:"totalParkingSpots"`
	AvailableFrom         string   `json:"availableFrom,omitempty"`
	Description           string   `json:"description,omitempty"`
	Options               []string `json:"options,omitempty"`
	SecurityFacilities    []string `json:"securityFacilities,omitempty"`
	LandlordName          string   `json:"landlordName,omitempty"`
	LandlordPhone         string   `json:"landlordPhone,omitempty"`
	LandlordBusinessRegNo string   `json:"landlordBusinessRegNo,omitempty"`
}

func newRoomPayload(form listings.DraftForm) roomPayload {
	return roomPayload{
		Address:               form.Address,
		MonthlyRent:           form.MonthlyRentWon,
		Deposit:               form.DepositWon,
		MaintenanceFee:        form.MaintenanceFeeWon,
		RoomType:              form.RoomType,
		AreaM2:                form.AreaM2,
		RoomCount:             form.RoomCount,
		BathroomCount:         form.BathroomCount,
		Direction:             form.Direction,
		HeatingType:           form.HeatingType,
		EntranceType:          form.EntranceType,
		BuildingUse:           form.BuildingUse,
		ApprovalDate:          form.ApprovalDate,
		Floor:                 form.Floor,
		ParkingAvailable:      form.ParkingAvailable,
		TotalParkingSpots:     form.TotalParkingSpots,
		AvailableFrom:         form.AvailableFrom,
		Description:           form.Description,
		Options:               form.Options,
		SecurityFacilities:    form.SecurityFacilities,
		LandlordName:          form.LandlordName,
		LandlordPhone:         form.LandlordPhone,
		LandlordBusinessRegNo: form.LandlordBusinessRegNo,
	}
}

type formField struct {
	name  string
	value string
}

// formFields flattens form into multipart fields, skipping empty optionals.
func formFields(form listings.DraftForm) []formField {
	fields := []formField{
		{name: "address", value: form.Address},
		{name: "monthlyRent", value: strconv.FormatInt(form.MonthlyRentWon, 10)},
		{name: "deposit", value: strconv.FormatInt(form.DepositWon, 10)},
		{name: "roomType", value: form.RoomType},
		{name: "parkingAvailable", value: strconv.FormatBool(form.ParkingAvailable)},
	}
	optional := func(name, value string) {
		if value != "" {
			fields = append(fields, formField{name: name, value: value})
		}
	}
	positive := func(name string, value int64) {
		if value > 0 {
			optional(name, strconv.FormatInt(value, 10))
		}
	}
	positive("maintenanceFee", form.MaintenanceFeeWon)
	if form.AreaM2 > 0 {
		optional("areaM2", strconv.FormatFloat(form.AreaM2, 'f', -1, 64))
	}
	positive("roomCount", int64(form.RoomCount))
	positive("bathroomCount", int64(form.BathroomCount))
	optional("direction", form.Direction)
	optional("heatingType", form.HeatingType)
	optional("entranceType", form.EntranceType)
	optional("buildingUse", form.BuildingUse)
	optional("approvalDate", form.ApprovalDate)
	if form.Floor != nil {
		optional("floor", strconv.Itoa(*form.Floor))
	}
	positive("totalParkingSpots", int64(form.TotalParkingSpots))
	optional("availableFrom", form.AvailableFrom)
	optional("description", form.Description)
	for _, option := range form.Options {
		optional("options", option)
	}
	for _, facility := range form.SecurityFacilities {
		optional("securityFacilities", facility)
	}
	optional("landlordName", form.LandlordName)
	optional("landlordPhone", form.LandlordPhone)
	optional("landlordBusinessRegNo", form.LandlordBusinessRegNo)
	return fields
}

// CreateRoom publishes form and its photos as multipart/form-data and returns
// the id assigned by the catalog.
func (c *Client) CreateRoom(ctx context.Context, form listings.DraftForm, images []listings.ImageUpload) (string, error) {
	fields := formFields(form)
	build := func(ctx context.Context) (*http.Request, error) {
		var buffer bytes.Buffer
		writer := multipart.NewWriter(&buffer)
		for _, field := range fields {
			if err := writer.WriteField(field.name, field.value); err != nil {
				return nil, err
			}
		}
		for index, image := range images {
			name := image.Name
			if name == "" {
				name = fmt.Sprintf("image-%d", index+1)
			}
			part, err := writer.CreateFormFile("images", name)
			if err != nil {
				return nil, err
			}
			if _, err := part.Write(image.Data); err != nil {
				return nil, err
			}
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/rooms", nil), &buffer)
		if err != nil {
			return nil, err
		}
		request.Header.Set("Content-Type", writer.FormDataContentType())
		request.Header.Set("Accept", "application/json")
		return request, nil
	}
	body, err := c.doOnce(ctx, "rooms.create", build)
	if err != nil {
		return "", err
	}
	var created listings.RoomRecord
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("remote: decode created room: %w", err)
	}
	if created.Identifier() == "" {
		return "", fmt.Errorf("remote: created room has no id")
	}
	return created.Identifier(), nil
}

func (c *Client) UpdateRoom(ctx context.Context, id string, form listings.DraftForm) error {
	_, err := c.do(ctx, "rooms.update", jsonRequest(http.MethodPut, c.endpoint("/rooms/"+url.PathEscape(id), nil), newRoomPayload(form)))
	return err
}

func (c *Client) DeleteRoom(ctx context.Context, id string) error {
	_, err := c.do(ctx, "rooms.delete", jsonRequest(http.MethodDelete, c.endpoint("/rooms/"+url.PathEscape(id), nil), nil))
	return err
}
