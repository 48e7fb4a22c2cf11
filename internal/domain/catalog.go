package domain

import (
	"fmt"
	"strings"
)

type CatalogService struct {
	Name   string
	Price  float64
	Gender string
}

var medicalServices = []CatalogService{
	{Name: "General Consultation", Price: 500, Gender: "All"},
	{Name: "Blood Test", Price: 300, Gender: "All"},
	{Name: "X-Ray", Price: 1200, Gender: "All"},
	{Name: "MRI Scan", Price: 5000, Gender: "All"},
	{Name: "Dental Cleaning", Price: 800, Gender: "All"},
	{Name: "Vaccination", Price: 150, Gender: "All"},
	{Name: "Mammogram", Price: 2000, Gender: "Female"},
	{Name: "Prostate Exam", Price: 1500, Gender: "Male"},
}

// AvailableServices returns the catalog entries visible to the given gender.
func AvailableServices(gender string) []CatalogService {
	g := strings.ToLower(gender)

	var out []CatalogService
	for _, s := range medicalServices {
		if s.Gender == "All" {
			out = append(out, s)
			continue
		}
		if strings.ToLower(s.Gender) == g {
			out = append(out, s)
		}
	}
	return out
}

// SelectServices resolves the requested names against the gender-filtered catalog
// and returns the selected items together with their price sum. A name outside
// the filtered catalog fails the whole selection.
func SelectServices(gender string, names []string) ([]ServiceItem, float64, error) {
	available := AvailableServices(gender)

	var selected []ServiceItem
	var basePrice float64
	for _, name := range names {
		var found *CatalogService
		for i := range available {
			if available[i].Name == name {
				found = &available[i]
				break
			}
		}
		if found == nil {
			return nil, 0, fmt.Errorf("%w: '%s' for gender '%s'", ErrUnknownService, name, gender)
		}
		selected = append(selected, ServiceItem{Name: found.Name, Price: found.Price})
		basePrice += found.Price
	}
	return selected, basePrice, nil
}
