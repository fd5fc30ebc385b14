package serving

import (
	"net/http"
)

// loadEntityHandler writes a stored entity as json, deleted ones included
func loadEntityHandler(wrapper ServiceParameters, w http.ResponseWriter, r *http.Request) error {
	defer r.Body.Close()

	catalog, collection, tid := r.PathValue("catalog"), r.PathValue("collection"), r.PathValue("tid")
	if _, err := wrapper.Runner.Registry().Collection(catalog, collection); err != nil {
		return BuildApiErrorFromRunError(err)
	}

	entity, found, err := wrapper.Store.GetEntity(wrapper.Ctx, catalog, collection, tid)
	if err != nil {
		return BuildApiErrorFromStorageError(err)
	} else if !found {
		return NewServiceNotFoundError("no entity " + tid + " in " + catalog + " " + collection)
	}

	return writeJSON(w, entity)
}
