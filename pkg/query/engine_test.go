package query

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/websyro/prismapilot/pkg/query/predicate"
)

type fakeExecutor struct {
	mu         sync.Mutex
	rows       []Record
	total      int64
	err        error
	countErr   error
	plans      []*Plan
	countPlans []*Plan
	aggPlan    *AggregatePlan
	groupPlan  *GroupByPlan
}

func (f *fakeExecutor) Find(_ context.Context, plan *Plan) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans = append(f.plans, plan)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeExecutor) Count(_ context.Context, plan *Plan) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countPlans = append(f.countPlans, plan)
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.total, nil
}

func (f *fakeExecutor) Aggregate(_ context.Context, plan *AggregatePlan) (Aggregates, error) {
	f.aggPlan = plan
	if f.err != nil {
		return nil, f.err
	}
	return Aggregates{AggCount: {AllRows: int64(3)}}, nil
}

func (f *fakeExecutor) GroupBy(_ context.Context, plan *GroupByPlan) ([]Record, error) {
	f.groupPlan = plan
	if f.err != nil {
		return nil, f.err
	}
	return []Record{{"status": "active", "_count": map[string]any{"_all": 2}}}, nil
}

func newTestEngine(t *testing.T, exec Executor, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(exec, opts...)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestNewEngine_RequiresExecutor(t *testing.T) {
	if _, err := NewEngine(nil); err == nil {
		t.Fatal("expected error for nil executor")
	}
}

func TestAssemble_Offset(t *testing.T) {
	e := newTestEngine(t, &fakeExecutor{})
	plan := e.Assemble(Request{
		Model:        "post",
		Page:         3,
		Limit:        20,
		Search:       "go",
		SearchFields: []string{"title", "body"},
		Filters:      predicate.Filters{"status": predicate.Eq("published")},
		Relations:    predicate.RelationFilters{"author": predicate.Some(predicate.Filters{"name": predicate.Eq("ada")})},
		Projection:   &Projection{Select: []string{"id"}},
	})

	want := `and(eq(status,"published"),some(author,eq(name,"ada")),or(contains(title,"go"),contains(body,"go")))`
	if got := plan.Where.String(); got != want {
		t.Fatalf("Where = %s, want %s", got, want)
	}
	if plan.Take != 20 || plan.Skip != 40 || plan.Cursor != nil {
		t.Fatalf("window = take %d skip %d cursor %v", plan.Take, plan.Skip, plan.Cursor)
	}
	if !reflect.DeepEqual(plan.OrderBy, []Order{{Field: "createdAt", Direction: SortDesc}}) {
		t.Fatalf("OrderBy = %v", plan.OrderBy)
	}
	if plan.Projection == nil || plan.Projection.Select[0] != "id" {
		t.Fatalf("projection not copied through: %v", plan.Projection)
	}
}

func TestAssemble_CursorTiebreaker(t *testing.T) {
	e := newTestEngine(t, &fakeExecutor{})

	tests := []struct {
		name string
		req  Request
		want []Order
	}{
		{
			name: "secondary key appended",
			req:  Request{Cursor: "p9", SortBy: "title", SortOrder: SortAsc},
			want: []Order{{Field: "title", Direction: SortAsc}, {Field: "id", Direction: SortAsc}},
		},
		{
			name: "no duplicate when sorting by cursor field",
			req:  Request{Cursor: "p9", SortBy: "id"},
			want: []Order{{Field: "id", Direction: SortDesc}},
		},
		{
			name: "custom cursor field",
			req:  Request{Mode: ModeCursor, CursorField: "slug"},
			want: []Order{{Field: "createdAt", Direction: SortDesc}, {Field: "slug", Direction: SortDesc}},
		},
		{
			name: "offset mode never appends",
			req:  Request{SortBy: "title"},
			want: []Order{{Field: "title", Direction: SortDesc}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Assemble(tt.req).OrderBy; !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("OrderBy = %v, want %v", got, tt.want)
			}
		})
	}

	plan := e.Assemble(Request{Cursor: "p9", Limit: 5})
	if plan.Take != 6 || plan.Skip != 1 || plan.Cursor == nil || plan.Cursor.Value != "p9" || plan.Cursor.Field != "id" {
		t.Fatalf("cursor window = %+v", plan)
	}
}

func TestAssemble_Options(t *testing.T) {
	e := newTestEngine(t, &fakeExecutor{}, WithDefaultSort("updatedAt", SortAsc), WithCursorField("uuid"))
	plan := e.Assemble(Request{Mode: ModeCursor})
	want := []Order{{Field: "updatedAt", Direction: SortAsc}, {Field: "uuid", Direction: SortAsc}}
	if !reflect.DeepEqual(plan.OrderBy, want) {
		t.Fatalf("OrderBy = %v, want %v", plan.OrderBy, want)
	}
}

func TestAssemble_InjectedWhere(t *testing.T) {
	e := newTestEngine(t, &fakeExecutor{})
	req := Request{Filters: predicate.Filters{"a": predicate.Eq(1)}}.
		WithWhere(predicate.Leaf("tenantId", predicate.OpEq, "t1"))
	if got := e.Assemble(req).Where.String(); got != `and(eq(a,1),eq(tenantId,"t1"))` {
		t.Fatalf("Where = %s", got)
	}
}

func TestEngine_FindPage(t *testing.T) {
	exec := &fakeExecutor{rows: []Record{{"id": 1}, {"id": 2}}, total: 21}
	e := newTestEngine(t, exec)

	res, err := e.Run(context.Background(), Request{Page: 2, Limit: 10, Filters: predicate.Filters{"a": predicate.Eq(1)}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Cursor != nil || res.Page == nil {
		t.Fatalf("expected page meta, got %+v", res)
	}
	want := PageMeta{Total: 21, Page: 2, Limit: 10, TotalPages: 3}
	if *res.Page != want {
		t.Fatalf("PageMeta = %+v, want %+v", *res.Page, want)
	}
	if len(exec.countPlans) != 1 {
		t.Fatalf("expected one count call, got %d", len(exec.countPlans))
	}
	cp := exec.countPlans[0]
	if cp.Take != 0 || cp.Skip != 0 || cp.OrderBy != nil || cp.Where.String() != "eq(a,1)" {
		t.Fatalf("count plan must carry where only: %+v", cp)
	}
}

func TestEngine_FindCursor(t *testing.T) {
	exec := &fakeExecutor{rows: []Record{{"id": "a"}, {"id": "b"}, {"id": "c"}}}
	e := newTestEngine(t, exec)

	res, err := e.Run(context.Background(), Request{Cursor: "z", Limit: 2})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Cursor == nil || !res.Cursor.HasMore || res.Cursor.NextCursor != "b" || res.Cursor.Limit != 2 {
		t.Fatalf("CursorMeta = %+v", res.Cursor)
	}
	if len(res.Data) != 2 {
		t.Fatalf("lookahead row must be dropped, got %d rows", len(res.Data))
	}
	if len(exec.countPlans) != 0 {
		t.Fatal("cursor mode must not count")
	}
}

func TestEngine_ExecutorErrorsUnchanged(t *testing.T) {
	boom := errors.New("boom")
	e := newTestEngine(t, &fakeExecutor{err: boom})
	ctx := context.Background()

	if _, err := e.Run(ctx, Request{Cursor: "x"}); err != boom {
		t.Fatalf("cursor: got %v, want %v", err, boom)
	}
	if _, err := e.Run(ctx, Request{}); err != boom {
		t.Fatalf("offset: got %v, want %v", err, boom)
	}
	if _, err := e.Aggregate(ctx, Request{}, Aggregations{AggCount: {AllRows}}); err != boom {
		t.Fatalf("aggregate: got %v, want %v", err, boom)
	}
	if _, err := e.GroupBy(ctx, GroupByRequest{By: []string{"a"}}); err != boom {
		t.Fatalf("group by: got %v, want %v", err, boom)
	}

	countErr := errors.New("count failed")
	e = newTestEngine(t, &fakeExecutor{countErr: countErr})
	if _, err := e.Count(ctx, Request{}); err != countErr {
		t.Fatalf("count: got %v, want %v", err, countErr)
	}
	if _, err := e.Run(ctx, Request{}); err != countErr {
		t.Fatalf("offset count: got %v, want %v", err, countErr)
	}
}

func TestEngine_AggregateAndGroupBy(t *testing.T) {
	exec := &fakeExecutor{}
	e := newTestEngine(t, exec)
	ctx := context.Background()

	if _, err := e.Aggregate(ctx, Request{}, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	aggs, err := e.Aggregate(ctx, Request{Model: "order", Page: 4, Filters: predicate.Filters{"paid": predicate.Is(true)}},
		Aggregations{AggCount: {AllRows}})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if aggs[AggCount][AllRows] != int64(3) {
		t.Fatalf("aggregate result must be forwarded unshaped: %v", aggs)
	}
	if exec.aggPlan.Model != "order" || exec.aggPlan.Where.String() != "eq(paid,true)" {
		t.Fatalf("aggregate plan = %+v", exec.aggPlan)
	}

	if _, err := e.GroupBy(ctx, GroupByRequest{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	having := predicate.Filters{HavingKey(AggCount, AllRows): predicate.AtLeast(2)}
	rows, err := e.GroupBy(ctx, GroupByRequest{
		Request:      Request{Model: "user", Filters: predicate.Filters{"age": predicate.AtLeast(18)}},
		By:           []string{"status"},
		Aggregations: Aggregations{AggCount: {AllRows}},
		Having:       having,
	})
	if err != nil || len(rows) != 1 {
		t.Fatalf("GroupBy() = %v, %v", rows, err)
	}
	gp := exec.groupPlan
	if gp.Where.String() != "gte(age,18)" || !reflect.DeepEqual(gp.By, []string{"status"}) || !reflect.DeepEqual(gp.Having, having) {
		t.Fatalf("group plan = %+v", gp)
	}
}

func TestChain_Order(t *testing.T) {
	var calls []string
	mw := func(name string) Middleware {
		return func(next Runner) Runner {
			return RunnerFunc(func(ctx context.Context, req Request) (*Response, error) {
				calls = append(calls, name)
				return next.Run(ctx, req)
			})
		}
	}
	base := RunnerFunc(func(context.Context, Request) (*Response, error) {
		calls = append(calls, "base")
		return &Response{}, nil
	})
	if _, err := Chain(base, mw("outer"), nil, mw("inner")).Run(context.Background(), Request{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !reflect.DeepEqual(calls, []string{"outer", "inner", "base"}) {
		t.Fatalf("calls = %v", calls)
	}
}

func TestRequest_IsCursor(t *testing.T) {
	tests := []struct {
		req  Request
		want bool
	}{
		{req: Request{}, want: false},
		{req: Request{Cursor: ""}, want: false},
		{req: Request{Cursor: "x"}, want: true},
		{req: Request{Cursor: 0.0}, want: true},
		{req: Request{Mode: ModeCursor}, want: true},
		{req: Request{Mode: ModeOffset, Cursor: "x"}, want: false},
	}
	for _, tt := range tests {
		if got := tt.req.IsCursor(); got != tt.want {
			t.Fatalf("IsCursor(%+v) = %v, want %v", tt.req, got, tt.want)
		}
	}
}

func TestRequest_Clone(t *testing.T) {
	orig := Request{Filters: predicate.Filters{"a": predicate.Eq(1)}, SearchFields: []string{"x"}}
	c := orig.Clone()
	c.Filters["b"] = predicate.Eq(2)
	c.SearchFields[0] = "y"
	if len(orig.Filters) != 1 || orig.SearchFields[0] != "x" {
		t.Fatalf("clone shares state with original: %+v", orig)
	}
}
