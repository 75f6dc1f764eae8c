package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/lib/pq"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS metric_rows (
	account_id       TEXT NOT NULL,
	campaign_id      TEXT NOT NULL DEFAULT '',
	ad_group_id      TEXT NOT NULL DEFAULT '',
	creative_id      TEXT NOT NULL DEFAULT '',
	level            SMALLINT NOT NULL,
	date             DATE NOT NULL,
	breakdown_key    TEXT NOT NULL DEFAULT '',
	dimension_key    TEXT NOT NULL DEFAULT '',
	dimensions       JSONB NOT NULL DEFAULT '[]',
	impressions      BIGINT NOT NULL DEFAULT 0,
	clicks           BIGINT NOT NULL DEFAULT 0,
	spend            DOUBLE PRECISION NOT NULL DEFAULT 0,
	conversions      DOUBLE PRECISION NOT NULL DEFAULT 0,
	conversion_value DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency         TEXT NOT NULL DEFAULT '',
	fetched_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account_id, campaign_id, ad_group_id, creative_id, date, breakdown_key, dimension_key)
)`

const upsertSQL = `INSERT INTO metric_rows (
	account_id, campaign_id, ad_group_id, creative_id, level, date,
	breakdown_key, dimension_key, dimensions,
	impressions, clicks, spend, conversions, conversion_value, currency, fetched_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (account_id, campaign_id, ad_group_id, creative_id, date, breakdown_key, dimension_key)
DO UPDATE SET
	level = EXCLUDED.level,
	dimensions = EXCLUDED.dimensions,
	impressions = EXCLUDED.impressions,
	clicks = EXCLUDED.clicks,
	spend = EXCLUDED.spend,
	conversions = EXCLUDED.conversions,
	conversion_value = EXCLUDED.conversion_value,
	currency = EXCLUDED.currency,
	fetched_at = EXCLUDED.fetched_at`

const deleteScopeSQL = `DELETE FROM metric_rows
WHERE account_id = $1 AND date = $2 AND level = ANY($3) AND breakdown_key = ANY($4)`

const selectColumns = `account_id, campaign_id, ad_group_id, creative_id, level, date,
	breakdown_key, dimensions, impressions, clicks, spend, conversions, conversion_value, currency, fetched_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresStore keeps rows in a single metric_rows table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure metric_rows schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rows []domain.MetricRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, row := range rows {
			if err := upsertRow(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ReplaceScope(ctx context.Context, scope Scope, rows []domain.MetricRow) error {
	if err := scope.validate(); err != nil {
		return err
	}
	levels := make([]int64, 0, len(scope.Levels))
	for _, level := range scope.Levels {
		levels = append(levels, int64(level))
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteScopeSQL,
			scope.AccountID, domain.Day(scope.Date), pq.Array(levels), pq.Array(scope.BreakdownKeys),
		); err != nil {
			return fmt.Errorf("delete scope %s: %w", scope, err)
		}
		for _, row := range rows {
			if err := upsertRow(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) Rows(ctx context.Context, query Query) ([]domain.MetricRow, error) {
	where := []string{"account_id = $1"}
	args := []any{query.AccountID}
	if !query.From.IsZero() {
		args = append(args, domain.Day(query.From))
		where = append(where, fmt.Sprintf("date >= $%d", len(args)))
	}
	if !query.To.IsZero() {
		args = append(args, domain.Day(query.To))
		where = append(where, fmt.Sprintf("date <= $%d", len(args)))
	}
	if query.Level != nil {
		args = append(args, int64(*query.Level))
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}
	if !query.IncludeBreakdowns {
		where = append(where, "breakdown_key = ''")
	}

	statement := "SELECT " + selectColumns + " FROM metric_rows WHERE " + strings.Join(where, " AND ") +
		" ORDER BY date, campaign_id, ad_group_id, creative_id, breakdown_key, dimension_key"
	result, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("query metric rows: %w", err)
	}
	defer result.Close()

	rows := make([]domain.MetricRow, 0)
	for result.Next() {
		var (
			row        domain.MetricRow
			level      int64
			dimensions []byte
		)
		if err := result.Scan(
			&row.AccountID, &row.CampaignID, &row.AdGroupID, &row.CreativeID, &level, &row.Date,
			&row.BreakdownKey, &dimensions, &row.Impressions, &row.Clicks, &row.Spend,
			&row.Conversions, &row.ConversionValue, &row.Currency, &row.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		row.Level = domain.Level(level)
		row.Date = domain.Day(row.Date)
		row.FetchedAt = row.FetchedAt.UTC()
		if len(dimensions) > 0 {
			if err := json.Unmarshal(dimensions, &row.Dimensions); err != nil {
				return nil, fmt.Errorf("decode dimensions for %s: %w", row.Key(), err)
			}
			if len(row.Dimensions) == 0 {
				row.Dimensions = nil
			}
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric rows: %w", err)
	}
	return rows, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func upsertRow(ctx context.Context, db execer, row domain.MetricRow) error {
	dimensions := row.Dimensions
	if dimensions == nil {
		dimensions = []domain.Dimension{}
	}
	encoded, err := json.Marshal(dimensions)
	if err != nil {
		return fmt.Errorf("encode dimensions for %s: %w", row.Key(), err)
	}
	fetchedAt := row.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	if _, err := db.ExecContext(ctx, upsertSQL,
		row.AccountID, row.CampaignID, row.AdGroupID, row.CreativeID, int64(row.Level), domain.Day(row.Date),
		row.BreakdownKey, row.DimensionKey(), string(encoded),
		row.Impressions, row.Clicks, row.Spend, row.Conversions, row.ConversionValue, row.Currency, fetchedAt,
	); err != nil {
		return fmt.Errorf("upsert %s: %w", row.Key(), err)
	}
	return nil
}
