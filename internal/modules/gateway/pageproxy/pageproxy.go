// Package pageproxy serves the tracked site under the tracking middleware,
// either from files on disk or by proxying to the site's own origin.
package pageproxy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/insight/internal/config"
	"github.com/mx-space/insight/internal/pkg/response"
	"go.uber.org/zap"
)

const assetCacheControl = "public, max-age=3600"

// Handler answers every request no API route claimed.
type Handler struct {
	root      string
	index     string
	upstream  *url.URL
	transport http.RoundTripper
	logger    *zap.Logger
}

func NewHandler(cfg config.SiteConfig, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		index:     strings.Trim(cfg.Index, "/"),
		transport: http.DefaultTransport,
		logger:    logger.Named("PageProxy"),
	}
	if h.index == "" {
		h.index = "index.html"
	}

	switch {
	case cfg.Upstream != "":
		target, err := url.Parse(cfg.Upstream)
		if err != nil || target.Host == "" {
			return nil, fmt.Errorf("site upstream %q: invalid origin", cfg.Upstream)
		}
		h.upstream = target
	case cfg.Root != "":
		root, err := filepath.Abs(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("site root: %w", err)
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("site root: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("site root %q is not a directory", root)
		}
		h.root = root
	default:
		return nil, errors.New("site: neither root nor upstream configured")
	}
	return h, nil
}

// Mode is "upstream" or "static".
func (h *Handler) Mode() string {
	if h.upstream != nil {
		return "upstream"
	}
	return "static"
}

// Serve is mounted as the router's NoRoute handler.
func (h *Handler) Serve(c *gin.Context) {
	if h.upstream != nil {
		h.proxy(c)
		return
	}
	h.serveFile(c)
}

func (h *Handler) proxy(c *gin.Context) {
	target := h.upstream
	rp := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		Transport: h.transport,
		ErrorHandler: func(_ http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				c.Abort()
				return
			}
			h.logger.Warn("site upstream unavailable", zap.String("path", r.URL.Path), zap.Error(err))
			response.ServiceUnavailable(c, "site upstream unavailable")
		},
	}
	rp.ServeHTTP(c.Writer, c.Request)
}

func (h *Handler) serveFile(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		response.NotFound(c)
		return
	}

	urlPath := c.Request.URL.Path
	target, ok := h.resolve(urlPath)
	if !ok {
		response.BadRequest(c, "invalid path")
		return
	}

	info, err := os.Stat(target)
	if err == nil && info.IsDir() {
		target = filepath.Join(target, h.index)
		_, err = os.Stat(target)
	}
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			response.InternalError(c, err)
			return
		}
		// Paths without an extension are client-side routes of the site.
		if path.Ext(urlPath) != "" {
			response.NotFound(c)
			return
		}
		target = filepath.Join(h.root, h.index)
		if _, err := os.Stat(target); err != nil {
			response.NotFound(c)
			return
		}
	}

	if ext := strings.ToLower(filepath.Ext(target)); ext != ".html" && ext != ".htm" {
		c.Header("Cache-Control", assetCacheControl)
	}
	c.File(target)
}

// resolve maps a URL path to a file under root. Dot-dot segments are refused.
func (h *Handler) resolve(urlPath string) (string, bool) {
	for _, seg := range strings.Split(urlPath, "/") {
		if seg == ".." {
			return "", false
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	target := filepath.Join(h.root, filepath.FromSlash(clean))
	if target != h.root && !strings.HasPrefix(target, h.root+string(os.PathSeparator)) {
		return "", false
	}
	return target, true
}
