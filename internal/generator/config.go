package generator

import "github.com/vanshika/paystream/internal/domain"

// Config drives the synthetic request generator.
type Config struct {
	NumUsers  int
	Merchants []string
	Currency  string
	Seed      int64
}

// DefaultMerchants is the merchant pool requests are drawn from.
var DefaultMerchants = []string{
	"Amazon", "Starbucks", "Uber", "Netflix", "Spotify", "Apple Store",
	"Google Play", "Target", "Walmart", "McDonald's", "Subway",
	"Best Buy", "Home Depot", "Costco", "Whole Foods", "CVS Pharmacy",
	"Shell", "Exxon", "Chevron", "Delta Airlines", "American Airlines",
}

// DefaultConfig returns five users spending across DefaultMerchants.
func DefaultConfig() Config {
	return Config{
		NumUsers:  5,
		Merchants: DefaultMerchants,
		Currency:  domain.DefaultCurrency,
	}
}
