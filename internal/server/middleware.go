package server

import (
	"io"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/labstack/echo/v4"

	"llmgateway/internal/core"
)

const (
	// HeaderProviderAPIKey carries a caller-supplied upstream key.
	HeaderProviderAPIKey = "X-Provider-Api-Key"
	// HeaderProviderEndpoint overrides the upstream base URL. Requires a key.
	HeaderProviderEndpoint = "X-Provider-Endpoint"
	// HeaderTags carries "k=v" pairs attached to every event of the request.
	HeaderTags = "X-Tags"
)

// BrotliDecompress decodes request bodies sent with Content-Encoding: br.
// Echo's Decompress middleware only handles gzip.
func BrotliDecompress() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.EqualFold(strings.TrimSpace(req.Header.Get(echo.HeaderContentEncoding)), "br") {
				return next(c)
			}
			body := req.Body
			req.Body = readCloser{Reader: brotli.NewReader(body), Closer: body}
			req.Header.Del(echo.HeaderContentEncoding)
			req.ContentLength = -1
			return next(c)
		}
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Credentials attaches caller-supplied upstream credentials to the request
// context.
func Credentials() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(HeaderProviderAPIKey))
			endpoint := strings.TrimSpace(c.Request().Header.Get(HeaderProviderEndpoint))
			if key == "" && endpoint == "" {
				return next(c)
			}
			if key == "" {
				return handleError(c, core.NewInvalidRequestError(HeaderProviderEndpoint+" requires "+HeaderProviderAPIKey, nil))
			}

			var creds core.Credentials = core.APIKeyCredentials{APIKey: key}
			if endpoint != "" {
				if err := validateEndpoint(endpoint); err != nil {
					return handleError(c, err)
				}
				creds = core.APIKeyWithEndpointCredentials{APIKey: key, Endpoint: endpoint}
			}
			ctx := core.WithCredentials(c.Request().Context(), creds)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return core.NewInvalidRequestError("invalid "+HeaderProviderEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return core.NewInvalidRequestError(HeaderProviderEndpoint+" must be an absolute http(s) URL", nil)
	}
	return nil
}

// Tags attaches the X-Tags header to the request context.
func Tags() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(HeaderTags)
			if header == "" {
				return next(c)
			}
			tags, err := core.ParseTags(header)
			if err != nil {
				return handleError(c, err)
			}
			ctx := core.WithTags(c.Request().Context(), tags)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

