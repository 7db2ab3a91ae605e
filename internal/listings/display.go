package listings

import "github.com/dustin/go-humanize"

const NoDepositLabel = "No deposit"

// FormatAmount renders display units as "₩1,234만".
func FormatAmount(units int64) string {
	return "₩" + humanize.Comma(units) + "만"
}

func PriceText(units int64) string {
	return FormatAmount(units)
}

func DepositText(units int64) string {
	if units == 0 {
		return NoDepositLabel
	}
	return "Deposit " + FormatAmount(units)
}
