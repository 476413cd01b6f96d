package config

import "github.com/sells-group/hexspot/internal/model"

// Built-in family names.
const (
	FamilyCapacity      = "capacity"
	FamilyAccessibility = "accessibility"
)

// DefaultFamilies returns the school-network presets: capacity, where
// crowding and staff workload count against a cell, and accessibility, where
// travel time counts against it. Every feature starts active at equal weight.
func DefaultFamilies() []model.Family {
	return []model.Family{
		{
			Name: FamilyCapacity,
			Features: []model.FeatureSpec{
				{Name: "students_per_professor_FUND", Label: "Average Students per Teacher", Active: true, Weight: 50},
				{Name: "students_per_class_FUND", Label: "Average Students per Class (calc.)", Active: true, Weight: 50},
				{Name: "MAT_FUND", Label: "Average Students per Class (given)", Active: true, Weight: 50},
				{Name: "IED_NIV", Label: "Perc. Teachers with effort indicator", Active: true, Weight: 50},
			},
		},
		{
			Name: FamilyAccessibility,
			Features: []model.FeatureSpec{
				{Name: "pop_6_14_years_adj", Label: "Population Ages 6-14", Active: true, Weight: 50, HigherIsBetter: true},
				{Name: "income_pc", Label: "Avg Income Per Capita (R$)", Active: true, Weight: 50, HigherIsBetter: true},
				{Name: "ensino_fundamental", Label: "Schools - Ensino Fundamental", Active: true, Weight: 50, HigherIsBetter: true},
				{Name: "duration_to_school_min_by_foot", Label: "Travel time to the nearest school by foot", Active: true, Weight: 50},
				{Name: "duration_to_school_min_by_car", Label: "Travel time to the nearest school by car", Active: true, Weight: 50},
				{Name: "schools_within_15min_travel_time_foot", Label: "Schools at <15 minutes by foot", Active: true, Weight: 50, HigherIsBetter: true},
				{Name: "schools_within_30min_travel_time_foot", Label: "Schools at <30 minutes by foot", Active: true, Weight: 50, HigherIsBetter: true},
				{Name: "schools_within_15min_travel_time_car", Label: "Schools at <15 minutes by car", Active: true, Weight: 50, HigherIsBetter: true},
				{Name: "schools_within_30min_travel_time_car", Label: "Schools at <30 minutes by car", Active: true, Weight: 50, HigherIsBetter: true},
			},
		},
	}
}
