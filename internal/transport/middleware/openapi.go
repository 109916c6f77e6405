package middleware

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	errors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/transport"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// LoadOpenAPI reads and validates the API document at path.
func LoadOpenAPI(ctx context.Context, path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	return doc, nil
}

// RequestValidator checks request parameters and bodies against the API document.
// Paths in the document are relative to basePath. Requests for routes the
// document does not describe are passed through untouched.
type RequestValidator struct {
	router   routers.Router
	basePath string
	base     *transport.BaseHandler
}

func NewRequestValidator(doc *openapi3.T, basePath string, logger *slog.Logger) (*RequestValidator, error) {
	// servers are matched through basePath instead
	doc.Servers = nil
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	return &RequestValidator{
		router:   router,
		basePath: strings.TrimSuffix(basePath, "/"),
		base:     transport.NewBaseHandler(logger),
	}, nil
}

func (v *RequestValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil && r.Body != http.NoBody {
			var err error
			body, err = io.ReadAll(r.Body)
			if err != nil {
				v.base.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed).WithCause(err))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		probe := r.Clone(r.Context())
		probe.URL.Path = strings.TrimPrefix(r.URL.Path, v.basePath)
		probe.Body = io.NopCloser(bytes.NewReader(body))

		route, pathParams, err := v.router.FindRoute(probe)
		if err != nil {
			var routeErr *routers.RouteError
			if stderrors.As(err, &routeErr) {
				next.ServeHTTP(w, r)
				return
			}
			v.base.HandleError(w, errors.NewInternalError("route lookup failed", err))
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    probe,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			v.base.HandleError(w, errors.NewValidationError("request does not match the API contract", errors.ErrCodeValidationFailed).
				WithDetails(map[string]string{"reason": validationReason(err)}).
				WithCause(err))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func validationReason(err error) string {
	var reqErr *openapi3filter.RequestError
	if stderrors.As(err, &reqErr) {
		switch {
		case reqErr.Parameter != nil:
			return fmt.Sprintf("parameter %q: %s", reqErr.Parameter.Name, reqErr.Err)
		case reqErr.RequestBody != nil && reqErr.Err != nil:
			return "request body: " + reqErr.Err.Error()
		}
		return reqErr.Error()
	}
	return err.Error()
}
