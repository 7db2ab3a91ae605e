package listings

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	// WonPerDisplayUnit converts won to the 만원 display unit.
	WonPerDisplayUnit = 10_000
	LocalIDPrefix     = "local-"
	defaultRoomType   = "ROOM"
	missingAddress    = "—"
)

// WonToDisplayUnits divides by 10,000 rounding half away from zero.
func WonToDisplayUnits(won int64) int64 {
	quotient := won / WonPerDisplayUnit
	remainder := won % WonPerDisplayUnit
	if remainder >= WonPerDisplayUnit/2 {
		quotient++
	} else if remainder <= -WonPerDisplayUnit/2 {
		quotient--
	}
	return quotient
}

// NormalizeRemote maps a remote room record to a Listing.
func NormalizeRemote(record RoomRecord) Listing {
	raw := record
	images := orderedImageURLs(record.Images)
	title := strings.TrimSpace(record.Title)
	if title == "" {
		title = synthesizeTitle(record.RoomType, record.AreaM2, record.Address)
	}
	listing := Listing{
		ID:             record.Identifier(),
		Title:          title,
		City:           record.Address,
		Address:        record.Address,
		PriceMonthly:   WonToDisplayUnits(record.MonthlyRent),
		Deposit:        WonToDisplayUnits(record.Deposit),
		MaintenanceFee: record.MaintenanceFee,
		Meta:           synthesizeMeta(record.RoomCount, record.BathroomCount, record.AreaM2),
		Image:          primaryImage(record.Images, images),
		Images:         images,
		Raw:            &raw,
	}
	if record.Latitude != nil && record.Longitude != nil {
		listing.Coordinates = &Coordinates{Lat: *record.Latitude, Lng: *record.Longitude}
	}
	return listing
}

// NormalizeLocalDraft maps a submitted form and its encoded images to a
// Listing. Without a form id the listing gets a local- id from createdAt.
func NormalizeLocalDraft(form DraftForm, images []string, createdAt time.Time) Listing {
	id := strings.TrimSpace(form.ID)
	if id == "" {
		id = fmt.Sprintf("%s%d", LocalIDPrefix, createdAt.UnixMilli())
	}
	roomType := form.RoomType
	if roomType == "" {
		roomType = "ONE_ROOM"
	}
	kept := make([]string, 0, len(images))
	for _, image := range images {
		if image != "" {
			kept = append(kept, image)
		}
	}
	listing := Listing{
		ID:              id,
		Title:           synthesizeTitle(roomType, form.AreaM2, form.Address),
		City:            form.Address,
		Address:         form.Address,
		PriceMonthly:    WonToDisplayUnits(form.MonthlyRentWon),
		Deposit:         WonToDisplayUnits(form.DepositWon),
		MaintenanceFee:  form.MaintenanceFeeWon,
		Meta:            synthesizeMeta(form.RoomCount, form.BathroomCount, form.AreaM2),
		Images:          kept,
		CreatedAtMillis: createdAt.UnixMilli(),
	}
	if len(kept) > 0 {
		listing.Image = kept[0]
	}
	return listing
}

func synthesizeTitle(roomType string, area float64, address string) string {
	label := strings.TrimSpace(strings.ReplaceAll(roomType, "_", " "))
	if label == "" {
		label = defaultRoomType
	}
	if strings.TrimSpace(address) == "" {
		address = missingAddress
	}
	return fmt.Sprintf("%s • %d m² @ %s", label, int64(math.Round(area)), address)
}

func synthesizeMeta(rooms, baths int, area float64) string {
	if rooms <= 0 {
		rooms = 1
	}
	if baths <= 0 {
		baths = 1
	}
	return fmt.Sprintf("%d rm · %d bath · %d m²", rooms, baths, int64(math.Round(area)))
}

func orderedImageURLs(images []RoomImage) []string {
	sorted := append([]RoomImage(nil), images...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })
	urls := make([]string, 0, len(sorted))
	for _, image := range sorted {
		if image.URL != "" {
			urls = append(urls, image.URL)
		}
	}
	return urls
}

func primaryImage(images []RoomImage, ordered []string) string {
	for _, image := range images {
		if image.Thumbnail && image.URL != "" {
			return image.URL
		}
	}
	if len(ordered) > 0 {
		return ordered[0]
	}
	return ""
}
