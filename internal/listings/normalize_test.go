package listings

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestWonToDisplayUnitsRoundsHalfAwayFromZero(t *testing.T) {
	testCases := []struct {
		won      int64
		expected int64
	}{
		{won: 500_000, expected: 50},
		{won: 0, expected: 0},
		{won: 4_999, expected: 0},
		{won: 5_000, expected: 1},
		{won: 15_000, expected: 2},
		{won: 14_999, expected: 1},
		{won: -5_000, expected: -1},
		{won: 10_000_000, expected: 1_000},
	}
	for _, testCase := range testCases {
		if actual := WonToDisplayUnits(testCase.won); actual != testCase.expected {
			t.Fatalf("WonToDisplayUnits(%d) = %d, want %d", testCase.won, actual, testCase.expected)
		}
	}
}

func TestNormalizeRemoteFromWireJSON(t *testing.T) {
	payload := `{
		"roomId": 42,
		"address": "Seoul Mapo-gu",
		"latitude": 37.55,
		"longitude": 126.92,
		"monthlyRent": 500000,
		"deposit": 0,
		"maintenanceFee": 70000,
		"roomType": "ONE_ROOM",
		"areaM2": 23.4,
		"roomCount": 0,
		"bathroomCount": 2,
		"images": [
			{"url": "b.jpg", "sortOrder": 2, "thumbnail": true},
			{"url": "a.jpg", "sortOrder": 1}
		]
	}`
	var record RoomRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	listing := NormalizeRemote(record)

	if listing.ID != "42" {
		t.Fatalf("expected id 42, got %q", listing.ID)
	}
	if listing.PriceMonthly != 50 || listing.Deposit != 0 || listing.MaintenanceFee != 70000 {
		t.Fatalf("unexpected money fields %+v", listing)
	}
	if listing.Title != "ONE ROOM • 23 m² @ Seoul Mapo-gu" {
		t.Fatalf("unexpected title %q", listing.Title)
	}
	if listing.Meta != "1 rm · 2 bath · 23 m²" {
		t.Fatalf("unexpected meta %q", listing.Meta)
	}
	if listing.Image != "b.jpg" {
		t.Fatalf("expected thumbnail as primary image, got %q", listing.Image)
	}
	if len(listing.Images) != 2 || listing.Images[0] != "a.jpg" {
		t.Fatalf("expected images ordered by sortOrder, got %v", listing.Images)
	}
	if listing.Coordinates == nil || listing.Coordinates.Lat != 37.55 {
		t.Fatalf("unexpected coordinates %+v", listing.Coordinates)
	}
	if listing.Raw == nil || listing.Raw.MonthlyRent != 500000 {
		t.Fatal("expected raw record preserved")
	}
	if listing.PriceText() != "₩50만" || listing.DepositText() != NoDepositLabel {
		t.Fatalf("unexpected display text %q %q", listing.PriceText(), listing.DepositText())
	}
}

func TestNormalizeRemoteEdgeCases(t *testing.T) {
	latitude := 35.0
	record := RoomRecord{ID: "r-7", Title: "Sunny studio", Latitude: &latitude}
	listing := NormalizeRemote(record)
	if listing.ID != "r-7" || listing.Title != "Sunny studio" {
		t.Fatalf("unexpected listing %+v", listing)
	}
	if listing.Coordinates != nil {
		t.Fatal("coordinates require both latitude and longitude")
	}
	if listing.Image != "" || len(listing.Images) != 0 {
		t.Fatalf("expected no images, got %q %v", listing.Image, listing.Images)
	}

	untitled := NormalizeRemote(RoomRecord{RoomID: "1"})
	if untitled.Title != "ROOM • 0 m² @ —" {
		t.Fatalf("unexpected untitled %q", untitled.Title)
	}
}

func TestWireIDAcceptsNumbersAndStrings(t *testing.T) {
	var record struct {
		A WireID `json:"a"`
		B WireID `json:"b"`
		C WireID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": 12, "b": " x-9 ", "c": null}`), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.A != "12" || record.B != "x-9" || record.C != "" {
		t.Fatalf("unexpected ids %+v", record)
	}
	if err := json.Unmarshal([]byte(`{"a": true}`), &record); err == nil {
		t.Fatal("expected boolean id to be rejected")
	}
}

func TestNormalizeLocalDraft(t *testing.T) {
	createdAt := time.UnixMilli(1_760_000_000_123)
	form := DraftForm{
		Address:        "Busan Haeundae",
		MonthlyRentWon: 455_000,
		DepositWon:     5_000_000,
		RoomType:       "TWO_ROOM",
		AreaM2:         31.6,
		RoomCount:      2,
	}
	listing := NormalizeLocalDraft(form, []string{"data:image/png;base64,AA==", ""}, createdAt)

	if listing.ID != "local-1760000000123" {
		t.Fatalf("unexpected id %q", listing.ID)
	}
	if listing.PriceMonthly != 46 || listing.Deposit != 500 {
		t.Fatalf("unexpected money %d %d", listing.PriceMonthly, listing.Deposit)
	}
	if listing.Title != "TWO ROOM • 32 m² @ Busan Haeundae" || listing.Meta != "2 rm · 1 bath · 32 m²" {
		t.Fatalf("unexpected text %q %q", listing.Title, listing.Meta)
	}
	if len(listing.Images) != 1 || listing.Image != listing.Images[0] {
		t.Fatalf("unexpected images %v", listing.Images)
	}
	if listing.CreatedAtMillis != createdAt.UnixMilli() || listing.Raw != nil {
		t.Fatalf("unexpected bookkeeping %+v", listing)
	}
	if !strings.HasPrefix(listing.DepositText(), "Deposit ₩500") {
		t.Fatalf("unexpected deposit text %q", listing.DepositText())
	}
}

func TestGeocodeFallback(t *testing.T) {
	if coords := GeocodeFallback("123 Gangnam-daero, Seoul"); coords == nil || coords.Lat != 37.5665 {
		t.Fatalf("expected seoul to win, got %+v", coords)
	}
	if coords := GeocodeFallback("Haeundae beach"); coords == nil || coords.Lng != 129.1635 {
		t.Fatalf("expected haeundae, got %+v", coords)
	}
	if coords := GeocodeFallback("Tashkent"); coords != nil {
		t.Fatalf("expected no match, got %+v", coords)
	}
	listing := Listing{Address: "JEJU city"}
	if listing.Position() == nil {
		t.Fatal("expected position from fallback")
	}
}

func TestPriceFormatting(t *testing.T) {
	if PriceText(500_000) != "₩500,000만" {
		t.Fatalf("unexpected %q", PriceText(500_000))
	}
	if DepositText(0) != "No deposit" || DepositText(1_000) != "Deposit ₩1,000만" {
		t.Fatalf("unexpected deposit text %q", DepositText(1_000))
	}
}
