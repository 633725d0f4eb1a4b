// Package source decodes the datasets consumed by the dashboard: the zone
// layer (GeoJSON, optionally inside a zip upload), the CSV order archive and
// the static reference layers (GeoPackage or GeoJSON). Every geometry leaving
// this package is in WGS 84 longitude/latitude.
package source
