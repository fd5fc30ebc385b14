package serving

import (
	"net/http"
	"strconv"

	"github.com/zefrenchwan/registries.git/relate"
)

// relateHandler relates one reference, query parameter force=true asks for a full run
func relateHandler(wrapper ServiceParameters, w http.ResponseWriter, r *http.Request) error {
	defer r.Body.Close()

	request := relate.Request{
		Catalog:    r.PathValue("catalog"),
		Collection: r.PathValue("collection"),
		Field:      r.PathValue("field"),
	}

	if force := r.URL.Query().Get("force"); force != "" {
		value, err := strconv.ParseBool(force)
		if err != nil {
			return NewServiceHttpClientError("invalid force parameter: " + err.Error())
		}

		request.ForceFull = value
	}

	user, _ := wrapper.CurrentUser()
	wrapper.Logger.Infow("relate requested", "user", user, "catalog", request.Catalog,
		"collection", request.Collection, "field", request.Field, "force", request.ForceFull)

	report, err := wrapper.Runner.Relate(wrapper.Ctx, request)
	if err != nil {
		return BuildApiErrorFromRunError(err)
	}

	return writeJSON(w, report)
}
