package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
)

const sqliteDriverName = "sqlite"

const schemaEnvironmentLogs = `
CREATE TABLE IF NOT EXISTS environment_logs (
    cycle_id TEXT PRIMARY KEY,
    recorded_at TIMESTAMP NOT NULL,
    ph REAL,
    tds REAL,
    water_temperature REAL,
    air_temperature REAL,
    air_humidity REAL
);
`

const schemaPlantInspections = `
CREATE TABLE IF NOT EXISTS plant_inspections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    plant_id INTEGER NOT NULL,
    inspected_at TIMESTAMP NOT NULL,
    condition TEXT NOT NULL,
    diagnosis TEXT,
    diagnosis_name TEXT,
    diagnosis_probability REAL,
    image_path TEXT,
    UNIQUE (run_id, plant_id)
);
`

const schemaWeatherLogs = `
CREATE TABLE IF NOT EXISTS weather_logs (
    forecast_date TEXT PRIMARY KEY,
    temp_max REAL NOT NULL,
    temp_min REAL NOT NULL,
    uv_index_max REAL NOT NULL,
    precipitation_sum REAL NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
`

// OpenSQLite opens/creates the database file and ensures tables exist.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range []string{schemaEnvironmentLogs, schemaPlantInspections, schemaWeatherLogs} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

// SQLRepository stores records in SQLite for local querying.
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func (r *SQLRepository) PersistEnvironmentRecord(ctx context.Context, rec messages.EnvironmentRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO environment_logs (cycle_id, recorded_at, ph, tds, water_temperature, air_temperature, air_humidity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.CycleID, rec.Timestamp.UTC(), nullFloat(rec.PH), nullFloat(rec.TDS), nullFloat(rec.WaterTemperature),
		nullFloat(rec.AirTemperature), nullFloat(rec.AirHumidity))
	if err != nil {
		return fmt.Errorf("insert environment log: %w", err)
	}
	return nil
}

func (r *SQLRepository) PersistInspectionRecord(ctx context.Context, rec messages.PlantInspectionRecord) error {
	var (
		diagnosis   sql.NullString
		name        sql.NullString
		probability sql.NullFloat64
	)
	if d := rec.Diagnosis; d != nil && d.Name != "" {
		diagnosis = sql.NullString{String: rec.DiagnosisText(), Valid: true}
		name = sql.NullString{String: d.Name, Valid: true}
		probability = sql.NullFloat64{Float64: d.Probability, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO plant_inspections (run_id, plant_id, inspected_at, condition, diagnosis, diagnosis_name, diagnosis_probability, image_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.PlantID, rec.Timestamp.UTC(), string(rec.Condition), diagnosis, name, probability, rec.ImagePath)
	if err != nil {
		return fmt.Errorf("insert plant inspection %d: %w", rec.PlantID, err)
	}
	return nil
}

// PersistWeather upserts the forecast for its date.
func (r *SQLRepository) PersistWeather(ctx context.Context, f messages.WeatherForecast) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO weather_logs (forecast_date, temp_max, temp_min, uv_index_max, precipitation_sum, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(forecast_date) DO UPDATE SET
		    temp_max = excluded.temp_max,
		    temp_min = excluded.temp_min,
		    uv_index_max = excluded.uv_index_max,
		    precipitation_sum = excluded.precipitation_sum,
		    recorded_at = excluded.recorded_at
	`, f.Date.Format("2006-01-02"), f.TempMax, f.TempMin, f.UVIndexMax, f.Precipitation, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert weather log: %w", err)
	}
	return nil
}

// LatestInspections returns the most recent records, newest first.
func (r *SQLRepository) LatestInspections(ctx context.Context, limit int) ([]messages.PlantInspectionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, plant_id, inspected_at, condition, diagnosis_name, diagnosis_probability, image_path
		FROM plant_inspections
		ORDER BY inspected_at DESC, plant_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query plant inspections: %w", err)
	}
	defer rows.Close()

	var out []messages.PlantInspectionRecord
	for rows.Next() {
		var (
			rec         messages.PlantInspectionRecord
			condition   string
			name        sql.NullString
			probability sql.NullFloat64
			image       sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.PlantID, &rec.Timestamp, &condition, &name, &probability, &image); err != nil {
			return nil, fmt.Errorf("scan plant inspection: %w", err)
		}
		rec.Condition = entities.Condition(condition)
		rec.ImagePath = image.String
		if name.Valid {
			rec.Diagnosis = &entities.Diagnosis{Name: name.String, Probability: probability.Float64}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plant inspections: %w", err)
	}
	return out, nil
}
