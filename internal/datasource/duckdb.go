package datasource

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/quantfold/leverbt/internal/logger"
	"github.com/quantfold/leverbt/internal/types"
	"github.com/quantfold/leverbt/pkg/errors"
	"go.uber.org/zap"
)

// DuckDBSource reads bar series from csv or parquet files through an
// in-memory DuckDB instance.
type DuckDBSource struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewDuckDBSource opens the in-memory database backing the source. Initialize
// must be called before reading.
func NewDuckDBSource(logger *logger.Logger) (*DuckDBSource, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open duckdb", err)
	}

	return &DuckDBSource{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Initialize implements BarSource. It creates a normalized `bars` view over
// the file, resolving the timestamp column the way the source data comes in
// the wild: a native `time` column, an ISO `iso` column, or an epoch `ts`
// column in seconds or milliseconds.
func (d *DuckDBSource) Initialize(path string) error {
	d.logger.Debug("Initializing DuckDB bar source", zap.String("path", path))

	var readFn string

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		readFn = fmt.Sprintf("read_csv_auto('%s')", path)
	case ".parquet":
		readFn = fmt.Sprintf("read_parquet('%s')", path)
	default:
		return errors.Newf(errors.ErrCodeInvalidParameter, "unsupported data file extension: %s", path)
	}

	if _, err := d.db.Exec(`DROP VIEW IF EXISTS bars; DROP VIEW IF EXISTS raw_bars;`); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to drop existing views", err)
	}

	if _, err := d.db.Exec(fmt.Sprintf(`CREATE VIEW raw_bars AS SELECT * FROM %s;`, readFn)); err != nil {
		return errors.Wrap(errors.ErrCodeDataNotFound, "failed to read data file", err)
	}

	timeExpr, err := d.resolveTimeExpr()
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		CREATE VIEW bars AS
		SELECT
			%s AS time,
			CAST(open AS DOUBLE) AS open,
			CAST(high AS DOUBLE) AS high,
			CAST(low AS DOUBLE) AS low,
			CAST(close AS DOUBLE) AS close,
			%s AS volume
		FROM raw_bars
		WHERE %s IS NOT NULL
	`, timeExpr, d.volumeExpr(), timeExpr)

	if _, err := d.db.Exec(query); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create bars view", err)
	}

	return nil
}

// resolveTimeExpr inspects the raw columns and builds the SQL expression
// producing a TIMESTAMP. Epoch columns are sniffed for second vs millisecond
// units by their median magnitude.
func (d *DuckDBSource) resolveTimeExpr() (string, error) {
	columns, err := d.columnNames()
	if err != nil {
		return "", err
	}

	switch {
	case columns["time"]:
		return `CAST("time" AS TIMESTAMP)`, nil
	case columns["iso"]:
		return `CAST(iso AS TIMESTAMP)`, nil
	case columns["ts"]:
		var median float64
		if err := d.db.QueryRow(`SELECT median(CAST(ts AS DOUBLE)) FROM raw_bars`).Scan(&median); err != nil {
			return "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to sniff epoch unit", err)
		}

		if median > 1e11 {
			return `to_timestamp(CAST(ts AS DOUBLE) / 1000)`, nil
		}

		return `to_timestamp(CAST(ts AS DOUBLE))`, nil
	default:
		return "", errors.New(errors.ErrCodeDataNotFound, "no recognizable timestamp column (time, iso or ts)")
	}
}

func (d *DuckDBSource) volumeExpr() string {
	columns, err := d.columnNames()
	if err == nil && columns["volume"] {
		return "CAST(volume AS DOUBLE)"
	}

	return "CAST(0 AS DOUBLE)"
}

func (d *DuckDBSource) columnNames() (map[string]bool, error) {
	rows, err := d.db.Query(`SELECT column_name FROM (DESCRIBE raw_bars)`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to describe raw bars", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan column name", err)
		}

		columns[strings.ToLower(name)] = true
	}

	return columns, rows.Err()
}

// ReadAll implements BarSource.
func (d *DuckDBSource) ReadAll(start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(types.Bar, error) bool) {
	return func(yield func(types.Bar, error) bool) {
		query := d.sq.
			Select("time", "open", "high", "low", "close", "volume").
			From("bars").
			OrderBy("time ASC")

		if start.IsSome() {
			query = query.Where(squirrel.GtOrEq{"time": start.Unwrap()})
		}

		if end.IsSome() {
			query = query.Where(squirrel.LtOrEq{"time": end.Unwrap()})
		}

		rows, err := query.RunWith(d.db).Query()
		if err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err))

			return
		}
		defer rows.Close()

		for rows.Next() {
			var bar types.Bar

			if err := rows.Scan(&bar.Time, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
				yield(types.Bar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan bar", err))

				return
			}

			if !yield(bar, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating bars", err))
		}
	}
}

// Count implements BarSource.
func (d *DuckDBSource) Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error) {
	query := d.sq.Select("COUNT(*)").From("bars")

	if start.IsSome() {
		query = query.Where(squirrel.GtOrEq{"time": start.Unwrap()})
	}

	if end.IsSome() {
		query = query.Where(squirrel.LtOrEq{"time": end.Unwrap()})
	}

	var count int
	if err := query.RunWith(d.db).QueryRow().Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count bars", err)
	}

	return count, nil
}

// Close implements BarSource.
func (d *DuckDBSource) Close() error {
	return d.db.Close()
}
