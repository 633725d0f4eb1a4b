// Package drought defines the core types shared across subsystems: severity
// levels, restriction zones, archived orders, reference layers and the
// indicator table, plus the pure filtering and aggregation rules applied to
// them.
//
// Nothing in this package performs I/O. Sources are decoded elsewhere
// (internal/source) and the results are handed to FilterZones,
// CountDepartmentsAt and BuildIndicators.
package drought
