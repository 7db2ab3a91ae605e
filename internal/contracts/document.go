package contracts

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/konnection/roomstate/internal/listings"
	"github.com/konnection/roomstate/internal/validation"
)

const (
	DocumentTitle    = "Residential Lease Agreement (Demo)"
	defaultLandlord  = "Landlord"
	pageWidth        = 595.28
	pagePadding      = 48.0
	lineStep         = 18.0
	signatureStep    = 24.0
	headerFontSize   = 18
	bodyFontSize     = 11
	filenamePrefix   = "contract_room_"
	filenameSuffix   = ".pdf"
	documentFontName = "Helvetica"
)

var (
	ErrRenderFailed = errors.New("contracts: pdf rendering failed")

	// Fixed so identical input renders identical bytes.
	documentEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	clauses = []string{
		"1) This is a demo agreement generated for preview purposes.",
		"2) Parties agree to discuss and finalize terms via chat.",
		"3) Security deposit (if any) and first month rent to be settled before move-in.",
		"4) Tenant agrees to follow building rules and maintain property.",
		"5) Any changes must be confirmed by both parties in writing.",
	}
	signatureLines = []string{
		"Landlord: ______________________        Date: ____________",
		"Tenant:   ______________________        Date: ____________",
	}

	pdfTextReplacer = strings.NewReplacer("₩", "KRW ", "만", " man")
)

// Input describes one contract request. Amounts are in display units.
type Input struct {
	RoomID        string `json:"roomId" validate:"required,max=190"`
	Address       string `json:"address" validate:"max=300"`
	LandlordName  string `json:"landlordName" validate:"max=120"`
	MonthlyAmount int64  `json:"monthlyAmount" validate:"gte=0"`
	DepositAmount int64  `json:"depositAmount" validate:"gte=0"`
	TenantName    string `json:"tenantName" validate:"required,min=2,max=120"`
	TenantEmail   string `json:"tenantEmail" validate:"required,email"`
	TenantPhone   string `json:"tenantPhone" validate:"required,min=7,max=40"`
	MoveInDate    string `json:"moveInDate" validate:"required,datetime=2006-01-02"`
}

func (in *Input) normalize() {
	for _, field := range []*string{&in.RoomID, &in.Address, &in.LandlordName, &in.TenantName, &in.TenantEmail, &in.TenantPhone, &in.MoveInDate} {
		*field = strings.TrimSpace(*field)
	}
	if in.LandlordName == "" {
		in.LandlordName = defaultLandlord
	}
}

// Document is a rendered contract.
type Document struct {
	Bytes    []byte
	Filename string
	// Summary holds the text lines printed above the clauses.
	Summary []string
}

// Filename returns contract_room_<id>.pdf. Characters outside [A-Za-z0-9_-]
// are percent-encoded so distinct ids never share a filename.
func Filename(roomID string) string {
	var builder strings.Builder
	builder.WriteString(filenamePrefix)
	for _, b := range []byte(roomID) {
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', b == '_', b == '-':
			builder.WriteByte(b)
		default:
			fmt.Fprintf(&builder, "%%%02X", b)
		}
	}
	builder.WriteString(filenameSuffix)
	return builder.String()
}

func summaryLines(in Input) (meta, parties []string) {
	meta = append(meta, "Room ID: "+in.RoomID)
	if in.Address != "" {
		meta = append(meta, "Address: "+in.Address)
	}
	meta = append(meta, "Monthly Rent: "+listings.FormatAmount(in.MonthlyAmount))
	deposit := listings.NoDepositLabel
	if in.DepositAmount != 0 {
		deposit = listings.FormatAmount(in.DepositAmount)
	}
	meta = append(meta, "Deposit: "+deposit)
	parties = []string{
		"Landlord: " + in.LandlordName,
		"Tenant: " + in.TenantName,
		"Tenant Email: " + in.TenantEmail,
		"Tenant Phone: " + in.TenantPhone,
		"Intended Move-in: " + in.MoveInDate,
	}
	return meta, parties
}

// Build validates input and renders the one-page lease agreement.
func Build(input Input) (Document, error) {
	input.normalize()
	if err := validation.Struct(input); err != nil {
		return Document{}, err
	}
	meta, parties := summaryLines(input)

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCompression(false)
	pdf.SetCreationDate(documentEpoch)
	pdf.SetModificationDate(documentEpoch)
	pdf.SetCatalogSort(true)
	pdf.SetTitle(DocumentTitle, true)
	pdf.SetMargins(pagePadding, pagePadding, pagePadding)
	pdf.SetAutoPageBreak(false, pagePadding)
	pdf.AddPage()
	translate := pdf.UnicodeTranslatorFromDescriptor("")
	text := func(value string) string {
		return translate(pdfTextReplacer.Replace(value))
	}

	y := pagePadding
	rule := func(width float64) {
		pdf.SetLineWidth(width)
		pdf.Line(pagePadding, y, pageWidth-pagePadding, y)
	}
	write := func(value string, step float64, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont(documentFontName, style, bodyFontSize)
		pdf.Text(pagePadding, y, text(value))
		y += step
	}

	pdf.SetFont(documentFontName, "B", headerFontSize)
	pdf.Text(pagePadding, y, text(DocumentTitle))
	y += 10
	rule(1)
	y += 24

	for _, line := range meta {
		write(line, lineStep, false)
	}
	y += 6
	rule(0.5)
	y += lineStep

	for i, line := range parties {
		write(line, lineStep, i == 0)
	}
	y += 6
	rule(0.5)
	y += lineStep

	for _, clause := range clauses {
		write(clause, lineStep, false)
	}
	y += lineStep
	write("Signatures", lineStep, true)
	for _, line := range signatureLines {
		write(line, signatureStep, false)
	}

	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	summary := append([]string{DocumentTitle}, meta...)
	summary = append(summary, parties...)
	return Document{
		Bytes:    buffer.Bytes(),
		Filename: Filename(input.RoomID),
		Summary:  summary,
	}, nil
}
