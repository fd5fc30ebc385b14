package serving

import (
	"encoding/json"
	"net/http"

	"github.com/zefrenchwan/registries.git/model"
)

// MAX_SNAPSHOT_BYTES limits the size of a posted snapshot
const MAX_SNAPSHOT_BYTES = 512 << 20

// importSnapshotHandler compares and applies a posted snapshot
func importSnapshotHandler(wrapper ServiceParameters, w http.ResponseWriter, r *http.Request) error {
	defer r.Body.Close()

	var snapshot model.Snapshot
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, MAX_SNAPSHOT_BYTES))
	decoder.UseNumber()
	if err := decoder.Decode(&snapshot); err != nil {
		return NewServiceUnprocessableEntityError("invalid snapshot: " + err.Error())
	}

	header := snapshot.Header
	if header.Catalogue == "" || header.Collection == "" || header.Source == "" {
		return NewServiceHttpClientError("snapshot header needs catalogue, collection and source")
	}

	user, _ := wrapper.CurrentUser()
	wrapper.Logger.Infow("import requested", "user", user, "catalog", header.Catalogue,
		"collection", header.Collection, "source", header.Source, "records", len(snapshot.Contents))

	result, err := wrapper.Runner.Import(wrapper.Ctx, snapshot)
	if err != nil {
		return BuildApiErrorFromRunError(err)
	}

	return writeJSON(w, result)
}
