package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// ActiveVisitorSource reports the last broadcast active visitor count.
type ActiveVisitorSource interface {
	ActiveVisitors() (int64, bool)
}

// ActiveVisitorsHeader sets X-Active-Visitors once a snapshot exists.
func ActiveVisitorsHeader(src ActiveVisitorSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n, ok := src.ActiveVisitors(); ok {
			c.Header("X-Active-Visitors", strconv.FormatInt(n, 10))
		}
		c.Next()
	}
}
