package withdrawals

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// SortColumn selects the record field the view sorts by.
type SortColumn uint8

const (
	SortDateTime SortColumn = iota
	SortStatus
	SortAmount
	SortOwnerID
	SortDestination
)

func (c SortColumn) String() string {
	switch c {
	case SortDateTime:
		return "date_time"
	case SortStatus:
		return "status"
	case SortAmount:
		return "amount"
	case SortOwnerID:
		return "owner_id"
	case SortDestination:
		return "destination"
	default:
		return fmt.Sprintf("SortColumn(%d)", uint8(c))
	}
}

// ParseSortColumn accepts the column names returned by String plus a few
// short forms.
func ParseSortColumn(value string) (SortColumn, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "date_time", "datetime", "date", "time":
		return SortDateTime, nil
	case "status":
		return SortStatus, nil
	case "amount":
		return SortAmount, nil
	case "owner_id", "owner":
		return SortOwnerID, nil
	case "destination", "address":
		return SortDestination, nil
	default:
		return 0, fmt.Errorf("withdrawals: unknown sort column %q", value)
	}
}

// Sort is a column and direction.
type Sort struct {
	Column    SortColumn
	Ascending bool
}

// DefaultSort is newest first.
func DefaultSort() Sort {
	return Sort{Column: SortDateTime, Ascending: false}
}

// Toggle applies a header click: the same column flips direction, a new
// column starts ascending.
func (s Sort) Toggle(column SortColumn) Sort {
	if s.Column == column {
		return Sort{Column: column, Ascending: !s.Ascending}
	}
	return Sort{Column: column, Ascending: true}
}

// PageSize is one of the supported page sizes.
type PageSize int

const (
	PageSize10 PageSize = 10
	PageSize15 PageSize = 15
	PageSize20 PageSize = 20
	PageSize30 PageSize = 30
	PageSize50 PageSize = 50

	DefaultPageSize = PageSize15
)

// PageSizes lists the supported sizes in ascending order.
func PageSizes() []PageSize {
	return []PageSize{PageSize10, PageSize15, PageSize20, PageSize30, PageSize50}
}

// Valid reports whether p is a supported size.
func (p PageSize) Valid() bool {
	return slices.Contains(PageSizes(), p)
}

// ParsePageSize validates n as a page size.
func ParsePageSize(n int) (PageSize, error) {
	size := PageSize(n)
	if !size.Valid() {
		return 0, fmt.Errorf("withdrawals: unsupported page size %d", n)
	}
	return size, nil
}

// PageCount returns ceil(n/size), 0 when n is 0.
func PageCount(n int, size PageSize) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + int(size) - 1) / int(size)
}

// ClampPage clamps page into [0, pageCount-1], or 0 when there are no pages.
func ClampPage(page, pageCount int) int {
	if page >= pageCount {
		page = pageCount - 1
	}
	if page < 0 {
		page = 0
	}
	return page
}

// Query is the caller's view state.
type Query struct {
	Statuses StatusSet
	Sort     Sort
	Page     int
	PageSize PageSize
}

// DefaultQuery is the initial view: every status but EXPIRED, newest first,
// first page of 15.
func DefaultQuery() Query {
	return Query{
		Statuses: DefaultStatusSet(),
		Sort:     DefaultSort(),
		PageSize: DefaultPageSize,
	}
}

// Page is one rendered page of the view.
type Page struct {
	Records   []Record `json:"records"`
	Page      int      `json:"page"`
	PageCount int      `json:"page_count"`
	PageSize  PageSize `json:"page_size"`
	Filtered  int      `json:"filtered"`
	Total     int      `json:"total"`
}

// Render filters, sorts and pages the snapshot's records. It does not modify
// the snapshot. Sorting is stable in both directions and the page is clamped.
// Any positive page size is honoured; zero or negative means DefaultPageSize.
func Render(snapshot Snapshot, q Query) Page {
	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	filtered := Filter(snapshot.Withdrawals, q.Statuses)
	SortRecords(filtered, q.Sort)

	pageCount := PageCount(len(filtered), size)
	page := ClampPage(q.Page, pageCount)
	start := min(page*int(size), len(filtered))
	end := min(start+int(size), len(filtered))

	return Page{
		Records:   filtered[start:end:end],
		Page:      page,
		PageCount: pageCount,
		PageSize:  size,
		Filtered:  len(filtered),
		Total:     len(snapshot.Withdrawals),
	}
}

// Filter returns the records whose status is in set, in input order, as a
// new slice. The empty set yields no records.
func Filter(records []Record, set StatusSet) []Record {
	out := make([]Record, 0, len(records))
	if set.Empty() {
		return out
	}
	for _, r := range records {
		if set.Has(r.Status) {
			out = append(out, r)
		}
	}
	return out
}

// SortRecords stably sorts records in place.
func SortRecords(records []Record, s Sort) {
	compare := comparator(s.Column)
	if s.Ascending {
		slices.SortStableFunc(records, compare)
		return
	}
	slices.SortStableFunc(records, func(a, b Record) int { return compare(b, a) })
}

func comparator(column SortColumn) func(a, b Record) int {
	switch column {
	case SortStatus:
		return func(a, b Record) int { return cmp.Compare(a.Status, b.Status) }
	case SortAmount:
		return func(a, b Record) int { return cmp.Compare(a.Amount, b.Amount) }
	case SortOwnerID:
		return func(a, b Record) int { return bytes.Compare(a.OwnerID[:], b.OwnerID[:]) }
	case SortDestination:
		return func(a, b Record) int { return strings.Compare(a.Address, b.Address) }
	default:
		return func(a, b Record) int { return a.DateTime.Compare(b.DateTime) }
	}
}

// Pager tracks the current page across renders and re-clamps when the page
// size changes. It is not safe for concurrent use.
type Pager struct {
	page      int
	size      PageSize
	filtered  int
	pageCount int
}

// NewPager starts on the first page with size, or the default size when size
// is unsupported.
func NewPager(size PageSize) *Pager {
	if !size.Valid() {
		size = DefaultPageSize
	}
	return &Pager{size: size}
}

// Page returns the current zero-based page.
func (p *Pager) Page() int { return p.page }

// Size returns the current page size.
func (p *Pager) Size() PageSize { return p.size }

// PageCount returns the page count seen at the last Observe.
func (p *Pager) PageCount() int { return p.pageCount }

// Apply copies the pager's position into q.
func (p *Pager) Apply(q Query) Query {
	q.Page = p.page
	q.PageSize = p.size
	return q
}

// Observe records the clamped position of a rendered page.
func (p *Pager) Observe(page Page) {
	p.page = page.Page
	p.filtered = page.Filtered
	p.pageCount = page.PageCount
}

// Next moves forward one page if there is one.
func (p *Pager) Next() bool {
	if p.page+1 >= p.pageCount {
		return false
	}
	p.page++
	return true
}

// Prev moves back one page if there is one.
func (p *Pager) Prev() bool {
	if p.page == 0 {
		return false
	}
	p.page--
	return true
}

// Goto jumps to page, clamped to the last observed page count.
func (p *Pager) Goto(page int) {
	p.page = ClampPage(page, p.pageCount)
}

// SetPageSize changes the page size and re-clamps the current page against
// the last observed filtered count.
func (p *Pager) SetPageSize(size PageSize) error {
	if !size.Valid() {
		return fmt.Errorf("withdrawals: unsupported page size %d", int(size))
	}
	p.size = size
	p.pageCount = PageCount(p.filtered, size)
	p.page = ClampPage(p.page, p.pageCount)
	return nil
}
