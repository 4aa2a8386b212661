package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// appProxyHandler proxies /<app>/* to the app's backend, stripping the app
// prefix and injecting the stored credential as a bearer header. Backends
// never see the cookie.
func (g *Gateway) appProxyHandler(app App) echo.HandlerFunc {
	target, err := url.Parse(app.URL)
	if err != nil {
		log.Fatal().Err(err).Str("app", app.Name).Msg("invalid backend URL")
	}

	prefix := "/" + app.Name
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()

			rest := strings.TrimPrefix(pr.In.URL.Path, prefix)
			if rest == "" {
				rest = "/"
			}
			pr.Out.URL.Path = singleJoin(target.Path, rest)

			pr.Out.Header.Del("Cookie")
			if token, ok := pr.In.Context().Value(proxyTokenKey{}).(string); ok {
				pr.Out.Header.Set("Authorization", "Bearer "+token)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error().Err(err).Str("app", app.Name).Msg("backend unreachable")
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return func(c echo.Context) error {
		token, _ := c.Get(contextTokenKey).(string)
		r := c.Request()
		r = r.WithContext(withProxyToken(r.Context(), token))
		proxy.ServeHTTP(c.Response(), r)
		return nil
	}
}

// idpProxyHandler serves the identity provider's own pages under /idp/ so
// the whole login experience stays on the gateway's origin.
func (g *Gateway) idpProxyHandler() echo.HandlerFunc {
	target, err := url.Parse(g.opts.IdPBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid identity provider URL")
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.URL.Path = singleJoin(target.Path, strings.TrimPrefix(pr.In.URL.Path, "/idp"))
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error().Err(err).Msg("identity provider unreachable")
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return func(c echo.Context) error {
		proxy.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

func singleJoin(a, b string) string {
	switch {
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	default:
		return a + b
	}
}
