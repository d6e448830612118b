package domain

// ColumnKind is the SQL type family of a destination column.
type ColumnKind string

const (
	ColumnKindInteger   ColumnKind = "INT"
	ColumnKindFloat     ColumnKind = "FLOAT"
	ColumnKindTimestamp ColumnKind = "TIMESTAMP"
	ColumnKindText      ColumnKind = "VARCHAR"
)

// ColumnRename maps a source column to its normalized name.
type ColumnRename struct {
	Source     string
	Normalized string
}

// DestinationColumn is one column of the trip destination table.
type DestinationColumn struct {
	Name string
	Kind ColumnKind
}

// tripColumnRenames is ordered by the column order of the TLC yellow taxi files.
var tripColumnRenames = [...]ColumnRename{
	{Source: "VendorID", Normalized: "vendor_id"},
	{Source: "tpep_pickup_datetime", Normalized: "tpep_pickup_datetime"},
	{Source: "tpep_dropoff_datetime", Normalized: "tpep_dropoff_datetime"},
	{Source: "passenger_count", Normalized: "passenger_count"},
	{Source: "trip_distance", Normalized: "trip_distance"},
	{Source: "RatecodeID", Normalized: "ratecode_id"},
	{Source: "store_and_fwd_flag", Normalized: "store_and_fwd_flag"},
	{Source: "PULocationID", Normalized: "pu_location_id"},
	{Source: "DOLocationID", Normalized: "do_location_id"},
	{Source: "payment_type", Normalized: "payment_type"},
	{Source: "fare_amount", Normalized: "fare_amount"},
	{Source: "extra", Normalized: "extra"},
	{Source: "mta_tax", Normalized: "mta_tax"},
	{Source: "tip_amount", Normalized: "tip_amount"},
	{Source: "tolls_amount", Normalized: "tolls_amount"},
	{Source: "improvement_surcharge", Normalized: "improvement_surcharge"},
	{Source: "total_amount", Normalized: "total_amount"},
	{Source: "congestion_surcharge", Normalized: "congestion_surcharge"},
	{Source: "Airport_fee", Normalized: "airport_fee"},
}

var tripDestinationColumns = [...]DestinationColumn{
	{Name: "vendor_id", Kind: ColumnKindInteger},
	{Name: "tpep_pickup_datetime", Kind: ColumnKindTimestamp},
	{Name: "tpep_dropoff_datetime", Kind: ColumnKindTimestamp},
	{Name: "passenger_count", Kind: ColumnKindFloat},
	{Name: "trip_distance", Kind: ColumnKindFloat},
	{Name: "ratecode_id", Kind: ColumnKindFloat},
	{Name: "store_and_fwd_flag", Kind: ColumnKindText},
	{Name: "pu_location_id", Kind: ColumnKindInteger},
	{Name: "do_location_id", Kind: ColumnKindInteger},
	{Name: "payment_type", Kind: ColumnKindInteger},
	{Name: "fare_amount", Kind: ColumnKindFloat},
	{Name: "extra", Kind: ColumnKindFloat},
	{Name: "mta_tax", Kind: ColumnKindFloat},
	{Name: "tip_amount", Kind: ColumnKindFloat},
	{Name: "tolls_amount", Kind: ColumnKindFloat},
	{Name: "improvement_surcharge", Kind: ColumnKindFloat},
	{Name: "total_amount", Kind: ColumnKindFloat},
	{Name: "congestion_surcharge", Kind: ColumnKindFloat},
	{Name: "airport_fee", Kind: ColumnKindFloat},
}

// TripColumnRenames returns a copy of the source -> normalized mapping in file order.
func TripColumnRenames() []ColumnRename {
	out := make([]ColumnRename, len(tripColumnRenames))
	copy(out, tripColumnRenames[:])
	return out
}

// TripRenameMap returns the rename mapping keyed by source column name.
func TripRenameMap() map[string]string {
	out := make(map[string]string, len(tripColumnRenames))
	for _, r := range tripColumnRenames {
		out[r.Source] = r.Normalized
	}
	return out
}

// TripDestinationColumns returns the fixed layout of the destination table.
func TripDestinationColumns() []DestinationColumn {
	out := make([]DestinationColumn, len(tripDestinationColumns))
	copy(out, tripDestinationColumns[:])
	return out
}

// LookupDestinationColumn finds a destination column by normalized name.
func LookupDestinationColumn(name string) (DestinationColumn, bool) {
	for _, col := range tripDestinationColumns {
		if col.Name == name {
			return col, true
		}
	}
	return DestinationColumn{}, false
}
