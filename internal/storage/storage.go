package storage

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"sajda/internal/errors"
	"sajda/internal/models"
)

//go:embed schema.sql
var ddl embed.FS

type DB struct{ *sqlx.DB }

func New(path string) (*DB, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	// one writer; the fired-log goroutine and readers queue on it
	db.SetMaxOpenConns(1)
	if err = migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func migrate(db *sqlx.DB) error {
	b, err := ddl.ReadFile("schema.sql")
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = db.Exec(string(b))
	return errors.Wrap(err, "migrate")
}

// ---------- zone cache ------------------------------------------------------

type zoneRow struct {
	Code        string  `db:"code"`
	DisplayName string  `db:"display_name"`
	Latitude    float64 `db:"latitude"`
	Longitude   float64 `db:"longitude"`
	UpdatedAt   int64   `db:"updated_at"`
}

// LoadZoneCache returns the last persisted zone, ok=false on first launch.
func (d *DB) LoadZoneCache(ctx context.Context) (models.CachedZone, bool, error) {
	var r zoneRow
	err := d.GetContext(ctx, &r, `
        SELECT code, display_name, latitude, longitude, updated_at
        FROM zone_cache WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CachedZone{}, false, nil
	}
	if err != nil {
		return models.CachedZone{}, false, errors.Wrap(err, "load zone cache")
	}
	return models.CachedZone{
		Zone:      models.Zone{Code: r.Code, DisplayName: r.DisplayName},
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		UpdatedAt: time.Unix(r.UpdatedAt, 0),
	}, true, nil
}

func (d *DB) SaveZoneCache(ctx context.Context, z models.CachedZone) error {
	if z.UpdatedAt.IsZero() {
		z.UpdatedAt = time.Now()
	}
	_, err := d.ExecContext(ctx, `
        INSERT INTO zone_cache (id, code, display_name, latitude, longitude, updated_at)
        VALUES (1,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET code=excluded.code,
            display_name=excluded.display_name,
            latitude=excluded.latitude,
            longitude=excluded.longitude,
            updated_at=excluded.updated_at
    `, z.Code, z.DisplayName, z.Latitude, z.Longitude, z.UpdatedAt.Unix())
	return errors.Wrap(err, "save zone cache")
}

// ---------- prayer days -----------------------------------------------------

type dayRow struct {
	ZoneCode string `db:"zone_code"`
	Day      string `db:"day"`
	Fajr     string `db:"fajr"`
	Syuruk   string `db:"syuruk"`
	Dhuhr    string `db:"dhuhr"`
	Asr      string `db:"asr"`
	Maghrib  string `db:"maghrib"`
	Isha     string `db:"isha"`
	Hijri    string `db:"hijri"`
}

func toDayRow(p models.PrayerDay) dayRow {
	f := func(t time.Time) string { return t.Format(time.RFC3339) }
	return dayRow{
		ZoneCode: p.ZoneCode, Day: p.Date,
		Fajr: f(p.Fajr), Syuruk: f(p.Syuruk), Dhuhr: f(p.Dhuhr),
		Asr: f(p.Asr), Maghrib: f(p.Maghrib), Isha: f(p.Isha),
		Hijri: p.HijriLabel,
	}
}

func (r dayRow) toModel() (models.PrayerDay, error) {
	p := models.PrayerDay{Date: r.Day, ZoneCode: r.ZoneCode, HijriLabel: r.Hijri}
	fields := []struct {
		dst *time.Time
		src string
	}{
		{&p.Fajr, r.Fajr}, {&p.Syuruk, r.Syuruk}, {&p.Dhuhr, r.Dhuhr},
		{&p.Asr, r.Asr}, {&p.Maghrib, r.Maghrib}, {&p.Isha, r.Isha},
	}
	for _, f := range fields {
		t, err := time.Parse(time.RFC3339, f.src)
		if err != nil {
			return p, errors.Wrapf(err, "prayer day %s/%s", r.ZoneCode, r.Day)
		}
		*f.dst = t
	}
	return p, nil
}

// SavePrayerDays replaces the stored rows for the given days.
func (d *DB) SavePrayerDays(ctx context.Context, days []models.PrayerDay) error {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	defer tx.Rollback()

	for _, day := range days {
		if _, err := tx.NamedExecContext(ctx, `
            INSERT OR REPLACE INTO prayer_days
              (zone_code, day, fajr, syuruk, dhuhr, asr, maghrib, isha, hijri)
            VALUES (:zone_code, :day, :fajr, :syuruk, :dhuhr, :asr, :maghrib, :isha, :hijri)
        `, toDayRow(day)); err != nil {
			return errors.Wrapf(err, "save prayer day %s", day.Date)
		}
	}
	return errors.WithStack(tx.Commit())
}

// PrayerDay returns nil when the day is not stored.
func (d *DB) PrayerDay(ctx context.Context, zone, day string) (*models.PrayerDay, error) {
	var r dayRow
	err := d.GetContext(ctx, &r, `
        SELECT zone_code, day, fajr, syuruk, dhuhr, asr, maghrib, isha, hijri
        FROM prayer_days WHERE zone_code=? AND day=?`, zone, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get prayer day")
	}
	p, err := r.toModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PrunePrayerDays drops rows older than the given day.
func (d *DB) PrunePrayerDays(ctx context.Context, before string) (int64, error) {
	res, err := d.ExecContext(ctx, `DELETE FROM prayer_days WHERE day < ?`, before)
	if err != nil {
		return 0, errors.Wrap(err, "prune prayer days")
	}
	return res.RowsAffected()
}

// ---------- fired events ----------------------------------------------------

type firedRow struct {
	Day     string `db:"day"`
	Key     string `db:"key"`
	Kind    string `db:"kind"`
	FiredAt int64  `db:"fired_at"`
}

// AppendFired records a firing; a duplicate (day, key) is ignored.
func (d *DB) AppendFired(ctx context.Context, rec models.FiredRecord) error {
	_, err := d.ExecContext(ctx, `
        INSERT OR IGNORE INTO fired_events (day, key, kind, fired_at)
        VALUES (?,?,?,?)`, rec.Day, rec.Key, string(rec.Kind), rec.FiredAt.Unix())
	return errors.Wrap(err, "append fired")
}

func (d *DB) FiredOn(ctx context.Context, day string) ([]models.FiredRecord, error) {
	var rows []firedRow
	if err := d.SelectContext(ctx, &rows, `
        SELECT day, key, kind, fired_at FROM fired_events
        WHERE day = ? ORDER BY fired_at, id`, day); err != nil {
		return nil, errors.Wrap(err, "list fired")
	}
	res := make([]models.FiredRecord, 0, len(rows))
	for _, r := range rows {
		res = append(res, models.FiredRecord{
			Day:     r.Day,
			Key:     r.Key,
			Kind:    models.EventKind(r.Kind),
			FiredAt: time.Unix(r.FiredAt, 0),
		})
	}
	return res, nil
}

func (d *DB) PruneFired(ctx context.Context, before string) (int64, error) {
	res, err := d.ExecContext(ctx, `DELETE FROM fired_events WHERE day < ?`, before)
	if err != nil {
		return 0, errors.Wrap(err, "prune fired")
	}
	return res.RowsAffected()
}

// ---------- chats -----------------------------------------------------------

func (d *DB) UpsertChat(ctx context.Context, chatID int64) error {
	_, err := d.ExecContext(ctx, `
        INSERT INTO chats (chat_id, created_at) VALUES (?,?)
        ON CONFLICT(chat_id) DO NOTHING`, chatID, time.Now().Unix())
	return errors.Wrap(err, "upsert chat")
}

func (d *DB) DeleteChat(ctx context.Context, chatID int64) error {
	_, err := d.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID)
	return errors.Wrap(err, "delete chat")
}

func (d *DB) ListChats(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := d.SelectContext(ctx, &ids, `SELECT chat_id FROM chats ORDER BY chat_id`)
	return ids, errors.Wrap(err, "list chats")
}
