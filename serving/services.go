package serving

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zefrenchwan/registries.git/jobs"
	"github.com/zefrenchwan/registries.git/storage"
)

// RequestContextKey is key type for context keys when using specific info (such as current user)
type RequestContextKey string

// USER_CONTEXT_KEY is the key of the authenticated login in request contexts
const USER_CONTEXT_KEY = RequestContextKey("user")

// InitService returns a new valid servemux to launch
func InitService(parameters ServiceParameters) *http.ServeMux {
	mux := http.NewServeMux()

	// ADMIN PART
	AddGetServiceHandlerToMux(mux, "/status/", checkStatusHandler, parameters)
	AddPostServiceHandlerToMux(mux, "/token/", checkUserAndGenerateTokenHandler, parameters)
	mux.Handle("/metrics", promhttp.Handler())
	// REGISTRY OPERATIONS
	AddAuthenticatedPostServiceHandlerToMux(mux, "/import/", importSnapshotHandler, parameters)
	AddAuthenticatedPostServiceHandlerToMux(mux, "/relate/{catalog}/{collection}/{field}/", relateHandler, parameters)
	AddAuthenticatedGetServiceHandlerToMux(mux, "/entity/{catalog}/{collection}/{tid}/", loadEntityHandler, parameters)
	// mux is complete, all handlers are set
	return mux
}

// AddGetServiceHandlerToMux adds an handler to to the current mux for a GET
func AddGetServiceHandlerToMux(mux *http.ServeMux, urlPattern string, handler ServiceHandler, parameters ServiceParameters) {
	AddServiceHandlerToMux(mux, http.MethodGet, urlPattern, false, handler, parameters)
}

// AddPostServiceHandlerToMux adds an handler to to the current mux for a POST
func AddPostServiceHandlerToMux(mux *http.ServeMux, urlPattern string, handler ServiceHandler, parameters ServiceParameters) {
	AddServiceHandlerToMux(mux, http.MethodPost, urlPattern, false, handler, parameters)
}

// AddAuthenticatedGetServiceHandlerToMux adds an handler to to the current mux for a GET
func AddAuthenticatedGetServiceHandlerToMux(mux *http.ServeMux, urlPattern string, handler ServiceHandler, parameters ServiceParameters) {
	AddServiceHandlerToMux(mux, http.MethodGet, urlPattern, true, handler, parameters)
}

// AddAuthenticatedPostServiceHandlerToMux adds an handler to to the current mux for a POST
func AddAuthenticatedPostServiceHandlerToMux(mux *http.ServeMux, urlPattern string, handler ServiceHandler, parameters ServiceParameters) {
	AddServiceHandlerToMux(mux, http.MethodPost, urlPattern, true, handler, parameters)
}

// AddServiceHandlerToMux adds an handler to current mux.
// Authentication is skipped when parameters have no users.
func AddServiceHandlerToMux(mux *http.ServeMux, method string, urlPattern string, testAuth bool, handler ServiceHandler, parameters ServiceParameters) {
	handlerFunction := func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(r.Method, method) {
			http.Error(w, "Expecting "+method, http.StatusMethodNotAllowed)
			return
		}

		// each call gets its own copy, bound to the request
		current := parameters
		current.Ctx = r.Context()

		// test if user is valid
		if testAuth && parameters.Users != nil {
			if login, auth, err := validateAuthentication(current, r); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			} else if !auth {
				http.Error(w, "should authenticate", http.StatusUnauthorized)
				return
			} else {
				current.Ctx = context.WithValue(current.Ctx, USER_CONTEXT_KEY, login)
			}
		}

		errHandler := handler(current, w, r)
		if errHandler != nil {
			switch customError, ok := errHandler.(ServiceHttpError); ok {
			case true:
				http.Error(w, customError.Error(), customError.HttpCode())
			default:
				current.Logger.Errorw("request failed", "path", r.URL.Path, "error", errHandler)
				http.Error(w, "Internal error: "+errHandler.Error(), http.StatusInternalServerError)
			}
		}
	}

	// register url matching
	mux.HandleFunc(urlPattern, handlerFunction)
	// deal with /value/ <=> /value
	size := len(urlPattern)
	if strings.HasSuffix(urlPattern, "/") {
		mux.HandleFunc(urlPattern[0:size-1], handlerFunction)
	} else {
		mux.HandleFunc(urlPattern+"/", handlerFunction)
	}
}

// ServiceParameters contains all parameters to use for a service
type ServiceParameters struct {
	Runner *jobs.Runner
	Store  storage.Store
	// Users authenticate requests, nil for none
	Users  Users
	Ctx    context.Context
	Logger *zap.SugaredLogger
}

// ServiceHandler adds more parameters than usual handler function
type ServiceHandler func(wrapper ServiceParameters, w http.ResponseWriter, r *http.Request) error

// CurrentUser returns the current user if any, and a boolean to explicit if found
func (sp ServiceParameters) CurrentUser() (string, bool) {
	switch userValue := sp.Ctx.Value(USER_CONTEXT_KEY); userValue {
	case nil:
		return "", false
	default:
		return userValue.(string), true
	}
}

// writeJSON writes value as the json response
func writeJSON(w http.ResponseWriter, value any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(value)
}
