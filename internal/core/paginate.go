package core

import (
	"golang.org/x/sync/errgroup"

	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/tracer"
)

// Paginated is one page of records plus the totals needed to render a pager.
type Paginated[T any] struct {
	Data       []T
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
}

// ClampPageSize bounds a requested page size, typically taken straight from
// a request parameter. A negative value is rejected; zero or a value above
// maxSize yields defSize.
func ClampPageSize(maxSize, defSize, value int) (int, error) {
	switch {
	case value < 0:
		return 0, errs.Invalid("page size cannot be negative, got %d", value)
	case defSize < 1 || defSize > maxSize:
		return 0, errs.Invalid("default page size %d must be in 1..%d", defSize, maxSize)
	case value == 0 || value > maxSize:
		return defSize, nil
	}
	return value, nil
}

// Pagination sets LIMIT and OFFSET for the zero-based page of value rows,
// bounded by ClampPageSize.
//
//	db.Model(&User{}).Order("id").Pagination(100, 20, page, size).Scan(&users)
func (q *ModelQuery) Pagination(maxSize, defSize, page, value int) *ModelQuery {
	if q.err != nil {
		return q
	}
	if page < 0 {
		return q.fail(errs.Invalid("page cannot be negative, got %d", page))
	}
	size, err := ClampPageSize(maxSize, defSize, value)
	if err != nil {
		return q.fail(err)
	}
	return q.Limit(int64(size)).Offset(int64(page) * int64(size))
}

// Paginate loads page (1-based) of size pageSize using q's filters and
// order, together with the total number of matching rows. Outside a
// transaction the count and the page are fetched concurrently.
//
// Example:
//
//	page, err := core.Paginate[User](db.Model(&User{}).Order("id"), 2, 10)
func Paginate[T any](q *ModelQuery, page, pageSize int) (*Paginated[T], error) {
	if q.err != nil {
		return nil, q.err
	}
	if page < 1 {
		return nil, errs.Invalid("page must be >= 1, got %d", page)
	}
	if pageSize < 1 {
		return nil, errs.Invalid("page size must be >= 1, got %d", pageSize)
	}

	ctx, span := q.db.tracer.StartSpan(q.ctx, tracer.SpanPaginate)
	defer span.End()

	counter := q.clone().WithContext(ctx)
	counter.order = nil

	limit, offset := int64(pageSize), int64(page-1)*int64(pageSize)
	loader := q.clone().WithContext(ctx)
	loader.limit, loader.offset = &limit, &offset

	result := &Paginated[T]{Page: page, PageSize: pageSize, Data: []T{}}
	count := func() error {
		n, err := counter.Count()
		result.Total = n
		return err
	}
	load := func() error {
		return loader.Scan(&result.Data)
	}

	var err error
	if q.tx != nil {
		// a transaction is one connection; its statements cannot overlap
		if err = count(); err == nil {
			err = load()
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		counter.ctx, loader.ctx = gctx, gctx
		g.Go(count)
		g.Go(load)
		err = g.Wait()
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result.TotalPages = int((result.Total + int64(pageSize) - 1) / int64(pageSize))
	return result, nil
}
