package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"transit-assigner/internal/gtfs"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// LoadSource reads the full static schedule into memory. The schedule is
// immutable for the session, so this runs exactly once at startup.
func LoadSource(ctx context.Context, db *sql.DB) (gtfs.Source, error) {
	var src gtfs.Source
	var err error
	if src.Stops, err = fetchStops(ctx, db); err != nil {
		return src, err
	}
	if src.Shapes, err = fetchShapePoints(ctx, db); err != nil {
		return src, err
	}
	if src.Services, err = fetchServices(ctx, db); err != nil {
		return src, err
	}
	if src.Trips, err = fetchTrips(ctx, db); err != nil {
		return src, err
	}
	if src.StopTimes, err = fetchStopTimes(ctx, db); err != nil {
		return src, err
	}
	return src, nil
}

func fetchStops(ctx context.Context, db *sql.DB) ([]gtfs.StopRow, error) {
	q := `SELECT stop_id, lat, lon, COALESCE(name, '') FROM stops ORDER BY stop_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	var out []gtfs.StopRow
	for rows.Next() {
		var r gtfs.StopRow
		if err := rows.Scan(&r.StopID, &r.Lat, &r.Lon, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func fetchShapePoints(ctx context.Context, db *sql.DB) ([]gtfs.ShapePointRow, error) {
	q := `SELECT shape_id, seq, lat, lon FROM shapes ORDER BY shape_id, seq`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()

	var out []gtfs.ShapePointRow
	for rows.Next() {
		var r gtfs.ShapePointRow
		if err := rows.Scan(&r.ShapeID, &r.Sequence, &r.Lat, &r.Lon); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func fetchServices(ctx context.Context, db *sql.DB) ([]gtfs.ServiceRow, error) {
	q := `SELECT service_id, start_date, end_date,
	             monday, tuesday, wednesday, thursday, friday, saturday, sunday
	      FROM calendar ORDER BY service_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}
	defer rows.Close()

	var out []gtfs.ServiceRow
	for rows.Next() {
		var r gtfs.ServiceRow
		var days [7]int
		if err := rows.Scan(&r.ServiceID, &r.StartDate, &r.EndDate,
			&days[0], &days[1], &days[2], &days[3], &days[4], &days[5], &days[6]); err != nil {
			return nil, err
		}
		for i, d := range days {
			r.Weekdays[i] = d == 1
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func fetchTrips(ctx context.Context, db *sql.DB) ([]gtfs.TripRow, error) {
	q := `SELECT trip_id, route_id, COALESCE(block_id, ''), service_id, COALESCE(shape_id, '')
	      FROM trips ORDER BY trip_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var out []gtfs.TripRow
	for rows.Next() {
		var r gtfs.TripRow
		if err := rows.Scan(&r.TripID, &r.RouteID, &r.BlockID, &r.ServiceID, &r.ShapeID); err != nil {
			return nil, err
		}
		// Blockless trips run alone: treat the trip as its own block.
		if r.BlockID == "" {
			r.BlockID = r.TripID
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func fetchStopTimes(ctx context.Context, db *sql.DB) ([]gtfs.StopTimeRow, error) {
	q := `SELECT trip_id, stop_id, stop_sequence, arrival_offset_s, departure_offset_s
	      FROM stop_times ORDER BY trip_id, stop_sequence`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	defer rows.Close()

	var out []gtfs.StopTimeRow
	for rows.Next() {
		var r gtfs.StopTimeRow
		if err := rows.Scan(&r.TripID, &r.StopID, &r.StopSequence, &r.ArrivalSec, &r.DepartureSec); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
