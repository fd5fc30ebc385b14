package serving

import (
	"net/http"
)

// CheckStatusResponse defines json to display when asking for status
type CheckStatusResponse struct {
	// Active is true when server is up
	Active bool `json:"active"`
	// Description is more about this serving instance
	Description string `json:"description,omitempty"`
	// Catalogs are the catalogs of the loaded schema
	Catalogs []string `json:"catalogs,omitempty"`
}

// checkStatusHandler deals with a request to test status on a server
func checkStatusHandler(wrapper ServiceParameters, w http.ResponseWriter, r *http.Request) error {
	defer r.Body.Close()

	result := CheckStatusResponse{
		Active:      true,
		Description: "Registries server",
		Catalogs:    wrapper.Runner.Registry().Catalogs(),
	}

	return writeJSON(w, result)
}
