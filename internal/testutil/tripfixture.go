// Package testutil writes parquet fixtures shaped like TLC yellow taxi files.
package testutil

import (
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
)

// Trip is one fixture row. A nil PassengerCount is written as null.
type Trip struct {
	VendorID        int32
	Pickup          time.Time
	Dropoff         time.Time
	PassengerCount  *float64
	TripDistance    float64
	RatecodeID      float64
	StoreAndFwdFlag string
	PULocationID    int32
	DOLocationID    int32
	PaymentType     int64
	FareAmount      float64
	Extra           float64
	MTATax          float64
	TipAmount       float64
	TollsAmount     float64
	Improvement     float64
	TotalAmount     float64
	Congestion      float64
	AirportFee      float64
}

// SampleTrips returns n deterministic trips starting at 2023-09-01.
func SampleTrips(n int) []Trip {
	base := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	trips := make([]Trip, n)
	for i := range trips {
		passengers := float64(1 + i%4)
		trips[i] = Trip{
			VendorID:        int32(1 + i%2),
			Pickup:          base.Add(time.Duration(i) * time.Minute),
			Dropoff:         base.Add(time.Duration(i)*time.Minute + 12*time.Minute),
			PassengerCount:  &passengers,
			TripDistance:    1.5 + float64(i)/10,
			RatecodeID:      1,
			StoreAndFwdFlag: "N",
			PULocationID:    int32(100 + i%50),
			DOLocationID:    int32(200 + i%50),
			PaymentType:     int64(1 + i%3),
			FareAmount:      10 + float64(i),
			Extra:           1,
			MTATax:          0.5,
			TipAmount:       2,
			TollsAmount:     0,
			Improvement:     1,
			TotalAmount:     17 + float64(i),
			Congestion:      2.5,
			AirportFee:      0,
		}
	}
	if n > 0 {
		trips[n-1].PassengerCount = nil
	}
	return trips
}

// TripSchema is the source schema of a TLC yellow taxi file.
func TripSchema() *arrow.Schema {
	ts := &arrow.TimestampType{Unit: arrow.Microsecond}
	f64 := arrow.PrimitiveTypes.Float64
	return arrow.NewSchema([]arrow.Field{
		{Name: "VendorID", Type: arrow.PrimitiveTypes.Int32},
		{Name: "tpep_pickup_datetime", Type: ts},
		{Name: "tpep_dropoff_datetime", Type: ts},
		{Name: "passenger_count", Type: f64, Nullable: true},
		{Name: "trip_distance", Type: f64},
		{Name: "RatecodeID", Type: f64},
		{Name: "store_and_fwd_flag", Type: arrow.BinaryTypes.String},
		{Name: "PULocationID", Type: arrow.PrimitiveTypes.Int32},
		{Name: "DOLocationID", Type: arrow.PrimitiveTypes.Int32},
		{Name: "payment_type", Type: arrow.PrimitiveTypes.Int64},
		{Name: "fare_amount", Type: f64},
		{Name: "extra", Type: f64},
		{Name: "mta_tax", Type: f64},
		{Name: "tip_amount", Type: f64},
		{Name: "tolls_amount", Type: f64},
		{Name: "improvement_surcharge", Type: f64},
		{Name: "total_amount", Type: f64},
		{Name: "congestion_surcharge", Type: f64},
		{Name: "Airport_fee", Type: f64},
	}, nil)
}

// TripTable builds an in-memory arrow table of trips. The caller must Release it.
func TripTable(mem memory.Allocator, trips []Trip) arrow.Table {
	schema := TripSchema()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	floats := func(col int, get func(Trip) float64) {
		fb := b.Field(col).(*array.Float64Builder)
		for _, trip := range trips {
			fb.Append(get(trip))
		}
	}

	for _, trip := range trips {
		b.Field(0).(*array.Int32Builder).Append(trip.VendorID)
		b.Field(1).(*array.TimestampBuilder).Append(arrow.Timestamp(trip.Pickup.UnixMicro()))
		b.Field(2).(*array.TimestampBuilder).Append(arrow.Timestamp(trip.Dropoff.UnixMicro()))
		if trip.PassengerCount == nil {
			b.Field(3).(*array.Float64Builder).AppendNull()
		} else {
			b.Field(3).(*array.Float64Builder).Append(*trip.PassengerCount)
		}
		b.Field(6).(*array.StringBuilder).Append(trip.StoreAndFwdFlag)
		b.Field(7).(*array.Int32Builder).Append(trip.PULocationID)
		b.Field(8).(*array.Int32Builder).Append(trip.DOLocationID)
		b.Field(9).(*array.Int64Builder).Append(trip.PaymentType)
	}
	floats(4, func(t Trip) float64 { return t.TripDistance })
	floats(5, func(t Trip) float64 { return t.RatecodeID })
	floats(10, func(t Trip) float64 { return t.FareAmount })
	floats(11, func(t Trip) float64 { return t.Extra })
	floats(12, func(t Trip) float64 { return t.MTATax })
	floats(13, func(t Trip) float64 { return t.TipAmount })
	floats(14, func(t Trip) float64 { return t.TollsAmount })
	floats(15, func(t Trip) float64 { return t.Improvement })
	floats(16, func(t Trip) float64 { return t.TotalAmount })
	floats(17, func(t Trip) float64 { return t.Congestion })
	floats(18, func(t Trip) float64 { return t.AirportFee })

	rec := b.NewRecord()
	defer rec.Release()
	return array.NewTableFromRecords(schema, []arrow.Record{rec})
}

// WriteTripParquet writes trips to path as a parquet file.
func WriteTripParquet(path string, trips []Trip) error {
	return WriteTripParquetRowGroups(path, trips, 4096)
}

// WriteTripParquetRowGroups writes trips to path with at most rowsPerGroup rows per row group.
func WriteTripParquetRowGroups(path string, trips []Trip, rowsPerGroup int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	mem := memory.NewGoAllocator()
	tbl := TripTable(mem, trips)
	defer tbl.Release()

	props := parquet.NewWriterProperties(parquet.WithDictionaryDefault(false))
	if err := pqarrow.WriteTable(tbl, f, rowsPerGroup, props, pqarrow.DefaultWriterProps()); err != nil {
		return fmt.Errorf("failed to write parquet fixture: %w", err)
	}
	return nil
}
