package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/uow"
)

// cachedValue is the msgpack form of a dialect.Value.
type cachedValue struct {
	Kind dialect.Kind `msgpack:"k"`
	S    string       `msgpack:"s,omitempty"`
	I    int64        `msgpack:"i,omitempty"`
	F    float64      `msgpack:"f,omitempty"`
	B    []byte       `msgpack:"b,omitempty"`
	T    time.Time    `msgpack:"t,omitempty"`
}

func encodeRow(row dialect.Row) ([]byte, error) {
	m := make(map[string]cachedValue, len(row))
	for k, v := range row {
		cv := cachedValue{Kind: v.Kind()}
		switch v.Kind() {
		case dialect.KindText:
			cv.S, _ = v.AsText()
		case dialect.KindInteger:
			cv.I, _ = v.AsInteger()
		case dialect.KindFloat:
			cv.F, _ = v.AsFloat()
		case dialect.KindBoolean:
			if b, _ := v.AsBoolean(); b {
				cv.I = 1
			}
		case dialect.KindBytes, dialect.KindJSON:
			cv.B, _ = v.AsBytes()
		case dialect.KindDateTime:
			cv.T, _ = v.AsDateTime()
		case dialect.KindDecimal:
			d, _ := v.AsDecimal()
			cv.S = d.String()
		case dialect.KindIdentifier:
			u, _ := v.AsIdentifier()
			cv.B = u[:]
		}
		m[k] = cv
	}
	return msgpack.Marshal(m)
}

func decodeRow(b []byte) (dialect.Row, error) {
	var m map[string]cachedValue
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	row := make(dialect.Row, len(m))
	for k, cv := range m {
		switch cv.Kind {
		case dialect.KindNull:
			row[k] = dialect.Null
		case dialect.KindText:
			row[k] = dialect.Text(cv.S)
		case dialect.KindInteger:
			row[k] = dialect.Integer(cv.I)
		case dialect.KindFloat:
			row[k] = dialect.Float(cv.F)
		case dialect.KindBoolean:
			row[k] = dialect.Boolean(cv.I == 1)
		case dialect.KindBytes:
			row[k] = dialect.Bytes(cv.B)
		case dialect.KindJSON:
			row[k] = dialect.JSON(cv.B)
		case dialect.KindDateTime:
			row[k] = dialect.DateTime(cv.T)
		case dialect.KindDecimal:
			d, err := decimal.NewFromString(cv.S)
			if err != nil {
				return nil, fmt.Errorf("repo: cached column %s: %w", k, err)
			}
			row[k] = dialect.Decimal(d)
		case dialect.KindIdentifier:
			u, err := uuid.FromBytes(cv.B)
			if err != nil {
				return nil, fmt.Errorf("repo: cached column %s: %w", k, err)
			}
			row[k] = dialect.Identifier(u)
		default:
			return nil, fmt.Errorf("repo: cached column %s: unknown kind %d", k, cv.Kind)
		}
	}
	return row, nil
}

// cachedRow returns the row of desc stored under key, calling fetch and
// storing its result on a miss. Unbound callers share one fetch per key.
// Cache failures are logged and fall back to fetch.
func (c *Client) cachedRow(ctx context.Context, desc *schema.EntityDescriptor, key string, shared bool, fetch func() (dialect.Row, error)) (dialect.Row, error) {
	ck := persist.CacheKey{Table: desc.Table, Key: key}.String()
	load := func() (dialect.Row, error) {
		b, err := c.cache.Get(ctx, ck)
		switch {
		case err != nil:
			c.logger.WarnContext(ctx, "cache get", "key", ck, "error", err)
		case b != nil:
			row, err := decodeRow(b)
			if err == nil {
				return row, nil
			}
			c.logger.WarnContext(ctx, "cache decode", "key", ck, "error", err)
		}
		row, err := fetch()
		if err != nil {
			return nil, err
		}
		if b, err := encodeRow(row); err != nil {
			c.logger.WarnContext(ctx, "cache encode", "key", ck, "error", err)
		} else if err := c.cache.Set(ctx, ck, b, c.cacheTTL); err != nil {
			c.logger.WarnContext(ctx, "cache set", "key", ck, "error", err)
		}
		return row, nil
	}
	if !shared {
		return load()
	}
	v, err, _ := c.group.Do(ck, func() (any, error) {
		return load()
	})
	if err != nil {
		return nil, err
	}
	return v.(dialect.Row), nil
}

// invalidate drops the cached rows of the written keys and every cached
// row that embeds one of their tables through an eager join.
func (c *Client) invalidate(ctx context.Context, keys []uow.IdentityKey) {
	if len(keys) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	prefixes := make(map[string]struct{})
	for _, k := range keys {
		desc, err := c.reg.LookupTag(k.Tag)
		if err != nil {
			c.logger.WarnContext(ctx, "cache invalidate", "tag", k.Tag, "error", err)
			continue
		}
		ck := persist.CacheKey{Table: desc.Table, Key: k.Key}.String()
		g.Go(func() error {
			return c.cache.Delete(gctx, ck)
		})
		for _, d := range c.dependents[k.Tag] {
			prefixes[persist.CacheKey{Table: d.Table}.Prefix()] = struct{}{}
		}
	}
	for p := range prefixes {
		g.Go(func() error {
			return c.cache.DeletePrefix(gctx, p)
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.WarnContext(ctx, "cache invalidate", "error", err)
	}
}

// dependents maps every entity to the entities whose selects join it
// eagerly, directly or through other eager joins.
func dependents(reg *schema.Registry) map[schema.TypeTag][]*schema.EntityDescriptor {
	deps := make(map[schema.TypeTag][]*schema.EntityDescriptor)
	for _, d := range reg.Entities() {
		seen := map[*schema.EntityDescriptor]bool{d: true}
		var walk func(*schema.EntityDescriptor)
		walk = func(e *schema.EntityDescriptor) {
			for _, rel := range e.Relations {
				if !eagerToOne(rel) || seen[rel.Target] {
					continue
				}
				seen[rel.Target] = true
				deps[rel.Target.Tag] = append(deps[rel.Target.Tag], d)
				walk(rel.Target)
			}
		}
		walk(d)
	}
	return deps
}

func eagerToOne(rel *schema.RelationDescriptor) bool {
	return rel.Fetch == schema.FetchEager && rel.Kind.ToOne() && rel.Target != nil
}
