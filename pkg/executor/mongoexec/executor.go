// Package mongoexec implements query.Executor for MongoDB. Models map to
// collections and relation predicates match embedded arrays.
package mongoexec

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/websyro/prismapilot/pkg/observability/logger"
	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

// Executor runs plans against a MongoDB database.
type Executor struct {
	db  *mongo.Database
	log logger.Logger
}

// New creates an executor over db.
func New(db *mongo.Database, log logger.Logger) *Executor {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Executor{db: db, log: log}
}

// Find runs a find plan. A cursor whose anchor document does not exist
// yields no rows.
func (e *Executor) Find(ctx context.Context, plan *query.Plan) ([]query.Record, error) {
	filter, err := Filter(plan.Where)
	if err != nil {
		return nil, err
	}
	coll := e.db.Collection(plan.Model)

	if plan.Cursor != nil {
		order := withCursorKey(plan.OrderBy, plan.Cursor.Field)
		anchor, err := e.anchor(ctx, coll, plan.Cursor.Field, plan.Cursor.Value, order)
		if err != nil {
			return nil, err
		}
		if anchor == nil {
			return []query.Record{}, nil
		}
		filter = and(filter, Keyset(order, anchor))
	}

	opts := options.Find().SetSort(Sort(plan.OrderBy))
	if plan.Take > 0 {
		opts.SetLimit(int64(plan.Take))
	}
	if plan.Skip > 0 {
		opts.SetSkip(int64(plan.Skip))
	}
	if proj := Projection(plan.Projection); proj != nil {
		opts.SetProjection(proj)
	}

	e.log.Debug("mongo find", "collection", plan.Model, "take", plan.Take, "skip", plan.Skip)
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return toRecords(docs), nil
}

func (e *Executor) anchor(ctx context.Context, coll *mongo.Collection, field string, value any, order []query.Order) (map[string]any, error) {
	proj := bson.M{}
	for _, o := range order {
		proj[o.Field] = 1
	}
	var doc bson.M
	err := coll.FindOne(ctx, bson.M{field: value}, options.FindOne().SetProjection(proj)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	for _, o := range order {
		out[o.Field] = lookup(doc, o.Field)
	}
	return out, nil
}

// Count counts documents matching the plan predicate.
func (e *Executor) Count(ctx context.Context, plan *query.Plan) (int64, error) {
	filter, err := Filter(plan.Where)
	if err != nil {
		return 0, err
	}
	return e.db.Collection(plan.Model).CountDocuments(ctx, filter)
}

// Aggregate runs a $match/$group pipeline.
func (e *Executor) Aggregate(ctx context.Context, plan *query.AggregatePlan) (query.Aggregates, error) {
	pipeline, cols, err := aggregatePipeline(plan)
	if err != nil {
		return nil, err
	}
	docs, err := e.aggregate(ctx, plan.Model, pipeline)
	if err != nil {
		return nil, err
	}
	out := query.Aggregates{}
	for _, c := range cols {
		if out[c.kind] == nil {
			out[c.kind] = map[string]any{}
		}
		var v any
		if len(docs) > 0 {
			v = normalize(docs[0][c.alias])
		} else if c.kind == query.AggCount {
			v = int64(0)
		}
		out[c.kind][c.field] = v
	}
	return out, nil
}

// GroupBy runs a $match/$group/$match/$sort pipeline.
func (e *Executor) GroupBy(ctx context.Context, plan *query.GroupByPlan) ([]query.Record, error) {
	pipeline, cols, err := groupByPipeline(plan)
	if err != nil {
		return nil, err
	}
	docs, err := e.aggregate(ctx, plan.Model, pipeline)
	if err != nil {
		return nil, err
	}
	out := make([]query.Record, len(docs))
	for i, doc := range docs {
		rec := query.Record{}
		id, _ := doc["_id"].(bson.M)
		for _, field := range plan.By {
			rec[field] = normalize(id[groupKey(field)])
		}
		for _, c := range cols {
			if !c.requested {
				continue
			}
			key := "_" + string(c.kind)
			group, _ := rec[key].(map[string]any)
			if group == nil {
				group = map[string]any{}
				rec[key] = group
			}
			group[c.field] = normalize(doc[c.alias])
		}
		out[i] = rec
	}
	return out, nil
}

func (e *Executor) aggregate(ctx context.Context, model string, pipeline mongo.Pipeline) ([]bson.M, error) {
	e.log.Debug("mongo aggregate", "collection", model, "stages", len(pipeline))
	cur, err := e.db.Collection(model).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

type aggColumn struct {
	kind      query.AggregateKind
	field     string
	alias     string
	requested bool
}

func accumulator(kind query.AggregateKind, field string) (bson.M, error) {
	ref := "$" + field
	switch kind {
	case query.AggCount:
		if field == query.AllRows {
			return bson.M{"$sum": 1}, nil
		}
		return bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$gt": bson.A{ref, nil}}, 1, 0}}}, nil
	case query.AggSum, query.AggAvg, query.AggMin, query.AggMax:
		return bson.M{"$" + string(kind): ref}, nil
	}
	return nil, fmt.Errorf("unsupported aggregation %q", kind)
}

func columns(aggs query.Aggregations, extra map[query.AggregateKind][]string) []aggColumn {
	var cols []aggColumn
	seen := map[string]bool{}
	add := func(all query.Aggregations, requested bool) {
		kinds := make([]string, 0, len(all))
		for k := range all {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			for _, field := range all[query.AggregateKind(k)] {
				key := query.HavingKey(query.AggregateKind(k), field)
				if seen[key] {
					continue
				}
				seen[key] = true
				cols = append(cols, aggColumn{
					kind:      query.AggregateKind(k),
					field:     field,
					alias:     fmt.Sprintf("agg_%d", len(cols)),
					requested: requested,
				})
			}
		}
	}
	add(aggs, true)
	add(extra, false)
	return cols
}

func groupStage(id any, cols []aggColumn) (bson.D, error) {
	group := bson.D{{Key: "_id", Value: id}}
	for _, c := range cols {
		acc, err := accumulator(c.kind, c.field)
		if err != nil {
			return nil, err
		}
		group = append(group, bson.E{Key: c.alias, Value: acc})
	}
	return bson.D{{Key: "$group", Value: group}}, nil
}

// aggregatePipeline builds the pipeline of an aggregate plan.
func aggregatePipeline(plan *query.AggregatePlan) (mongo.Pipeline, []aggColumn, error) {
	match, err := Filter(plan.Where)
	if err != nil {
		return nil, nil, err
	}
	cols := columns(plan.Aggregations, nil)
	group, err := groupStage(nil, cols)
	if err != nil {
		return nil, nil, err
	}
	return mongo.Pipeline{{{Key: "$match", Value: match}}, group}, cols, nil
}

// groupByPipeline builds the pipeline of a group-by plan. Aggregates only
// referenced by Having are computed but not returned.
func groupByPipeline(plan *query.GroupByPlan) (mongo.Pipeline, []aggColumn, error) {
	match, err := Filter(plan.Where)
	if err != nil {
		return nil, nil, err
	}

	extra := map[query.AggregateKind][]string{}
	for key := range plan.Having {
		kind, field, err := parseHavingKey(key)
		if err != nil {
			return nil, nil, err
		}
		extra[kind] = append(extra[kind], field)
	}
	cols := columns(plan.Aggregations, extra)

	id := bson.M{}
	sortKeys := bson.D{}
	for _, field := range plan.By {
		id[groupKey(field)] = "$" + field
		sortKeys = append(sortKeys, bson.E{Key: "_id." + groupKey(field), Value: 1})
	}
	group, err := groupStage(id, cols)
	if err != nil {
		return nil, nil, err
	}

	aliases := map[string]string{}
	for _, c := range cols {
		aliases[query.HavingKey(c.kind, c.field)] = c.alias
	}
	having, err := translate(predicate.CompileFilters(plan.Having), func(field string) (string, error) {
		alias, ok := aliases[field]
		if !ok {
			return "", fmt.Errorf("invalid having key %q", field)
		}
		return alias, nil
	})
	if err != nil {
		return nil, nil, err
	}

	pipeline := mongo.Pipeline{{{Key: "$match", Value: match}}, group}
	if having != nil {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: having}})
	}
	if len(sortKeys) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: sortKeys}})
	}
	return pipeline, cols, nil
}

func parseHavingKey(key string) (query.AggregateKind, string, error) {
	kind, field, ok := strings.Cut(strings.TrimPrefix(key, "_"), ".")
	if !ok || !strings.HasPrefix(key, "_") {
		return "", "", fmt.Errorf("invalid having key %q", key)
	}
	return query.AggregateKind(kind), field, nil
}

// groupKey makes a dotted path usable as a field name inside _id.
func groupKey(field string) string {
	return strings.ReplaceAll(field, ".", "_")
}

func withCursorKey(order []query.Order, field string) []query.Order {
	if len(order) > 0 && order[len(order)-1].Field == field {
		return order
	}
	return append(append([]query.Order(nil), order...), query.Order{Field: field, Direction: query.SortAsc})
}

func and(a, b bson.M) bson.M {
	if len(a) == 0 {
		return b
	}
	return bson.M{"$and": bson.A{a, b}}
}

func lookup(doc bson.M, path string) any {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(bson.M)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func toRecords(docs []bson.M) []query.Record {
	out := make([]query.Record, len(docs))
	for i, d := range docs {
		out[i] = query.Record(normalize(d).(map[string]any))
	}
	return out
}

// normalize converts driver container types to plain maps and slices.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return int64(t)
	}
	return v
}
