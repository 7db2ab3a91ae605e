package listings

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Listing is the display record shared by remote rooms and local drafts.
// PriceMonthly and Deposit are in display units (10,000 won); MaintenanceFee
// stays in won.
type Listing struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	City            string       `json:"city"`
	Address         string       `json:"address"`
	PriceMonthly    int64        `json:"priceMonthly"`
	Deposit         int64        `json:"deposit"`
	MaintenanceFee  int64        `json:"maintenanceFee"`
	Meta            string       `json:"meta"`
	Image           string       `json:"img"`
	Images          []string     `json:"images"`
	Coordinates     *Coordinates `json:"coords"`
	Raw             *RoomRecord  `json:"raw,omitempty"`
	CreatedAtMillis int64        `json:"createdAtLocal,omitempty"`
}

func (l Listing) PriceText() string {
	return PriceText(l.PriceMonthly)
}

func (l Listing) DepositText() string {
	return DepositText(l.Deposit)
}

// Position returns the stored coordinates or a city-level guess from the address.
func (l Listing) Position() *Coordinates {
	if l.Coordinates != nil {
		return l.Coordinates
	}
	return GeocodeFallback(l.Address)
}
