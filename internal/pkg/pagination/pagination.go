package pagination

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/insight/internal/pkg/response"
	"gorm.io/gorm"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Query holds parsed pagination parameters.
type Query struct {
	Page  int
	Limit int
}

// Offset returns the row offset of the first item on the page.
func (q Query) Offset() int { return (q.Page - 1) * q.Limit }

// FromContext parses page/limit. Malformed or non-positive values are
// rejected; a limit above MaxLimit is capped.
func FromContext(c *gin.Context) (Query, error) {
	page, err := parsePositive(c.Query("page"), DefaultPage, "page")
	if err != nil {
		return Query{}, err
	}
	rawLimit := c.Query("limit")
	if rawLimit == "" {
		rawLimit = c.Query("size")
	}
	limit, err := parsePositive(rawLimit, DefaultLimit, "limit")
	if err != nil {
		return Query{}, err
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Query{Page: page, Limit: limit}, nil
}

// Paginate applies limit/offset to a GORM query and returns the pagination metadata.
func Paginate[T any](db *gorm.DB, q Query, dest *[]T) (response.Pagination, error) {
	var total int64
	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return response.Pagination{}, err
	}

	if err := db.Offset(q.Offset()).Limit(q.Limit).Find(dest).Error; err != nil {
		return response.Pagination{}, err
	}
	return Meta(total, q), nil
}

// Meta builds pagination metadata for a known total.
func Meta(total int64, q Query) response.Pagination {
	totalPage := int((total + int64(q.Limit) - 1) / int64(q.Limit))
	return response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Limit:       q.Limit,
		HasNextPage: q.Page < totalPage,
	}
}

// LimitParam parses an optional bounded "limit" used by top-N reports.
func LimitParam(c *gin.Context, def, max int) (int, error) {
	limit, err := parsePositive(c.Query("limit"), def, "limit")
	if err != nil {
		return 0, err
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}

func parsePositive(raw string, def int, name string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	if v < 1 {
		return 0, fmt.Errorf("%s must be >= 1", name)
	}
	return v, nil
}
