package categorize

// SampleData returns a small labelled data set used to bootstrap a model
// before any real expenses exist.
func SampleData() []Sample {
	data := map[string][]string{
		"Food & Dining": {
			"McDonald's breakfast", "Starbucks coffee", "Pizza delivery", "Restaurant dinner",
			"Grocery shopping", "Subway sandwich", "Coffee shop", "Fast food lunch",
			"Fine dining", "Catering service",
		},
		"Transportation": {
			"Gas station fuel", "Uber ride", "Taxi fare", "Bus ticket", "Train ticket",
			"Parking fee", "Car maintenance", "Metro card", "Airline ticket", "Lyft ride",
		},
		"Shopping": {
			"Amazon purchase", "Clothing store", "Department store", "Online shopping",
			"Electronics store", "Bookstore", "Pharmacy", "Hardware store",
			"Sporting goods", "Target shopping",
		},
		"Bills & Utilities": {
			"Electric bill", "Water bill", "Internet bill", "Phone bill", "Cable TV",
			"Insurance premium", "Netflix subscription", "Spotify premium",
			"Gym membership", "Utility payment",
		},
		"Healthcare": {
			"Doctor visit", "Pharmacy prescription", "Dental checkup", "Hospital bill",
			"Medical test", "Health insurance", "Clinic visit", "Therapy session",
			"Medical supplies", "Vision exam",
		},
		"Entertainment": {
			"Movie theater", "Concert ticket", "Sports event", "Streaming service",
			"Video games", "Theme park", "Music festival", "Theater show",
			"Gaming subscription", "Entertainment venue",
		},
		"Travel": {
			"Hotel booking", "Flight ticket", "Car rental", "Travel insurance",
			"Resort booking", "Airbnb stay", "Cruise booking", "Travel agency",
			"Vacation package", "Travel expenses",
		},
		"Business": {
			"Office supplies", "Business lunch", "Conference fee", "Professional service",
			"Business travel", "Office rent", "Software license", "Consulting fee",
			"Business equipment", "Professional development",
		},
		"Education": {
			"University tuition", "Online course", "Textbooks", "School supplies",
			"Training program", "Educational software", "Certification exam",
			"Workshop fee", "Academic conference", "Student loan",
		},
		"Other": {
			"Bank fee", "ATM withdrawal", "Gift purchase", "Donation", "Legal fee",
			"Miscellaneous", "Unknown expense", "Service fee", "General expense",
			"Various items",
		},
	}

	samples := make([]Sample, 0, 100)
	for _, category := range DefaultTaxonomy().Names() {
		for _, text := range data[category] {
			samples = append(samples, Sample{Text: text, Category: category})
		}
	}
	return samples
}
