package scoring

import "github.com/riselocal/leadqual/internal/enrich"

// Adapter names the default rules read from. They match the registry keys
// wired at startup.
const (
	AdapterWebsite = "website"
	AdapterBooking = "booking"
	AdapterReviews = "reviews"
	AdapterAds     = "ads"
	AdapterSocial  = "social"
)

// DefaultRules is the standard signal table for local-business leads. A high
// score means high pain and therefore high opportunity. Weights are ordered
// so the full table sums above 100 only in pathological cases; the engine
// clamps regardless.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "outdated-web-presence",
			Weight: 25,
			Trigger: func(rs enrich.ResultSet) bool {
				quality, ok := numberField(rs, AdapterWebsite, "visual_score")
				return ok && quality < 0.4
			},
		},
		{
			Name:   "no-online-booking",
			Weight: 20,
			Trigger: func(rs enrich.ResultSet) bool {
				url, ok := stringField(rs, AdapterBooking, "booking_url")
				if !ok {
					// adapter answered but found no booking capability at all
					_, answered := field(rs, AdapterBooking, "checked")
					return answered
				}
				return url == ""
			},
		},
		{
			Name:   "not-mobile-friendly",
			Weight: 15,
			Trigger: func(rs enrich.ResultSet) bool {
				mobile, ok := boolField(rs, AdapterWebsite, "mobile_friendly")
				return ok && !mobile
			},
		},
		{
			Name:   "weak-review-presence",
			Weight: 15,
			Trigger: func(rs enrich.ResultSet) bool {
				count, ok := numberField(rs, AdapterReviews, "review_count")
				return ok && count < 10
			},
		},
		{
			Name:   "low-rating",
			Weight: 10,
			Trigger: func(rs enrich.ResultSet) bool {
				rating, ok := numberField(rs, AdapterReviews, "rating")
				return ok && rating > 0 && rating < 3.5
			},
		},
		{
			Name:   "no-ad-spend",
			Weight: 10,
			Trigger: func(rs enrich.ResultSet) bool {
				campaigns, ok := numberField(rs, AdapterAds, "active_campaigns")
				return ok && campaigns == 0
			},
		},
		{
			Name:   "dormant-social-presence",
			Weight: 5,
			Trigger: func(rs enrich.ResultSet) bool {
				days, ok := numberField(rs, AdapterSocial, "days_since_last_post")
				return ok && days > 90
			},
		},
	}
}
