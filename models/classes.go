// Package models - Label sets and the model registry.
package models

import "github.com/scenic-viber/viber/models/model"

// DatasetMapillaryVistas identifies the Mapillary Vistas v1.2 label set.
const DatasetMapillaryVistas = "mapillary-vistas"

// MapillaryVistas is the 65 class Mapillary Vistas v1.2 label set used by
// the street-level Mask2Former checkpoints.
var MapillaryVistas = newClassSet(DatasetMapillaryVistas, []model.OutputClass{
	{Index: 0, Name: "Bird"},
	{Index: 1, Name: "Ground Animal"},
	{Index: 2, Name: "Curb"},
	{Index: 3, Name: "Fence"},
	{Index: 4, Name: "Guard Rail"},
	{Index: 5, Name: "Barrier"},
	{Index: 6, Name: "Wall"},
	{Index: 7, Name: "Bike Lane"},
	{Index: 8, Name: "Crosswalk - Plain"},
	{Index: 9, Name: "Curb Cut"},
	{Index: 10, Name: "Parking"},
	{Index: 11, Name: "Pedestrian Area"},
	{Index: 12, Name: "Rail Track"},
	{Index: 13, Name: "Road"},
	{Index: 14, Name: "Service Lane"},
	{Index: 15, Name: "Sidewalk"},
	{Index: 16, Name: "Bridge"},
	{Index: 17, Name: "Building"},
	{Index: 18, Name: "Tunnel"},
	{Index: 19, Name: "Person"},
	{Index: 20, Name: "Bicyclist"},
	{Index: 21, Name: "Motorcyclist"},
	{Index: 22, Name: "Other Rider"},
	{Index: 23, Name: "Lane Marking - Crosswalk"},
	{Index: 24, Name: "Lane Marking - General"},
	{Index: 25, Name: "Mountain"},
	{Index: 26, Name: "Sand"},
	{Index: 27, Name: "Sky"},
	{Index: 28, Name: "Snow"},
	{Index: 29, Name: "Terrain"},
	{Index: 30, Name: "Vegetation"},
	{Index: 31, Name: "Water"},
	{Index: 32, Name: "Banner"},
	{Index: 33, Name: "Bench"},
	{Index: 34, Name: "Bike Rack"},
	{Index: 35, Name: "Billboard"},
	{Index: 36, Name: "Catch Basin"},
	{Index: 37, Name: "CCTV Camera"},
	{Index: 38, Name: "Fire Hydrant"},
	{Index: 39, Name: "Junction Box"},
	{Index: 40, Name: "Mailbox"},
	{Index: 41, Name: "Manhole"},
	{Index: 42, Name: "Phone Booth"},
	{Index: 43, Name: "Pothole"},
	{Index: 44, Name: "Street Light"},
	{Index: 45, Name: "Pole"},
	{Index: 46, Name: "Traffic Sign Frame"},
	{Index: 47, Name: "Utility Pole"},
	{Index: 48, Name: "Traffic Light"},
	{Index: 49, Name: "Traffic Sign (Back)"},
	{Index: 50, Name: "Traffic Sign (Front)"},
	{Index: 51, Name: "Trash Can"},
	{Index: 52, Name: "Bicycle"},
	{Index: 53, Name: "Boat"},
	{Index: 54, Name: "Bus"},
	{Index: 55, Name: "Car"},
	{Index: 56, Name: "Caravan"},
	{Index: 57, Name: "Motorcycle"},
	{Index: 58, Name: "On Rails"},
	{Index: 59, Name: "Other Vehicle"},
	{Index: 60, Name: "Trailer"},
	{Index: 61, Name: "Truck"},
	{Index: 62, Name: "Wheeled Slow"},
	{Index: 63, Name: "Car Mount"},
	{Index: 64, Name: "Ego Vehicle"},
})

func newClassSet(dataset string, classes []model.OutputClass) *model.OutputClassSet {
	set := &model.OutputClassSet{Dataset: dataset, Classes: classes}
	set.BuildNameIndexMap()
	return set
}
