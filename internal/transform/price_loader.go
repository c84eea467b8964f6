package transform

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/mtgsql/mtgsql/internal/engine"
	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/internal/schema"
)

// priceTableDDL matches the value order produced by priceRows.
const priceTableDDL = `uuid VARCHAR NOT NULL,
source VARCHAR,
provider VARCHAR,
price_type VARCHAR,
finish VARCHAR NOT NULL,
currency VARCHAR,
date DATE NOT NULL,
price DOUBLE NOT NULL`

// LoadResult summarises a price load.
type LoadResult struct {
	Rows    int64
	Stats   PriceStats
	Deduped bool
}

// priceRows adapts a PriceStream to the engine's bulk-load source.
type priceRows struct {
	stream *PriceStream
	err    error
}

func (p *priceRows) Next() ([]driver.Value, bool) {
	rec, ok := p.stream.Next()
	if !ok {
		return nil, false
	}
	date, err := time.Parse(dateLayout, rec.Date)
	if err != nil {
		p.err = errors.NewTransformError(p.stream.opts.View, "bad price date", err).
			WithDetails(map[string]interface{}{"entity": rec.EntityID, "date": rec.Date})
		return nil, false
	}
	return []driver.Value{
		rec.EntityID, nullable(rec.Source), rec.Provider, nullable(rec.PriceType),
		rec.Finish, nullable(rec.Currency), date, rec.Price,
	}, true
}

func (p *priceRows) Err() error {
	if p.err != nil {
		return p.err
	}
	return p.stream.Err()
}

func nullable(s string) driver.Value {
	if s == "" {
		return nil
	}
	return s
}

// LoadPrices streams price trees from r into a staging table and publishes
// it as table once every record is written. If the input repeated an
// entity, a dedup pass keeps the first row per price key before publishing.
// On failure the staging table is dropped and table is left untouched.
func LoadPrices(ctx context.Context, eng *engine.Engine, r io.Reader, table string, opts PriceOptions) (LoadResult, error) {
	if !schema.ValidateIdentifier(table) {
		return LoadResult{}, errors.NewInvalidArgument(fmt.Sprintf("invalid price table name %q", table))
	}
	if opts.View == "" {
		opts.View = table
	}
	staging := table + "__staging"
	dedup := table + "__dedup"

	if err := eng.Drop(ctx, staging); err != nil {
		return LoadResult{}, err
	}
	if err := eng.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", schema.QuoteIdentifier(staging), priceTableDDL)); err != nil {
		return LoadResult{}, err
	}

	stream := NewPriceStream(r, opts)
	n, err := eng.Append(ctx, staging, &priceRows{stream: stream})
	if err != nil {
		eng.Drop(context.WithoutCancel(ctx), staging)
		return LoadResult{}, err
	}

	res := LoadResult{Rows: n, Stats: stream.Stats()}
	publish := staging

	if res.Stats.RepeatedEntities > 0 {
		// Possibly false positives from the filter; the pass is then a no-op.
		// rowid follows append order, so the first record of a key is kept.
		key := strings.Join([]string{"uuid", "source", "provider", "price_type", "finish", "date"}, ", ")
		stmt := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s QUALIFY row_number() OVER (PARTITION BY %s ORDER BY rowid) = 1",
			schema.QuoteIdentifier(dedup), schema.QuoteIdentifier(staging), key)
		if err := eng.Exec(ctx, stmt); err != nil {
			eng.Drop(context.WithoutCancel(ctx), staging)
			return LoadResult{}, err
		}
		if err := eng.Drop(ctx, staging); err != nil {
			return LoadResult{}, err
		}
		if res.Rows, err = eng.Count(ctx, dedup); err != nil {
			return LoadResult{}, err
		}
		publish = dedup
		res.Deduped = true
	}

	if err := eng.Publish(ctx, publish, table); err != nil {
		eng.Drop(context.WithoutCancel(ctx), publish)
		return LoadResult{}, err
	}

	log.Printf("transform: loaded %d price records into %s (entities=%d null=%d non_positive=%d repeated=%d)",
		res.Rows, table, res.Stats.Entities, res.Stats.NullPrices, res.Stats.NonPositive, res.Stats.RepeatedEntities)
	return res, nil
}
