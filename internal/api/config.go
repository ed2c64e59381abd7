package api

import (
	"io"
	"net/http"
	"os"

	"github.com/webosose/camcap/internal/app"
	"github.com/webosose/camcap/pkg/yaml"
)

func configHandler(w http.ResponseWriter, r *http.Request) {
	if app.ConfigPath == "" {
		http.Error(w, "", http.StatusGone)
		return
	}

	switch r.Method {
	case "GET":
		data, err := os.ReadFile(app.ConfigPath)
		if err != nil {
			http.Error(w, "", http.StatusNotFound)
			return
		}
		// https://www.ietf.org/archive/id/draft-ietf-httpapi-yaml-mediatypes-00.html
		Response(w, data, "application/yaml")

	case "POST", "PATCH":
		if app.ConfigReadOnly {
			http.Error(w, app.ErrConfigReadOnly.Error(), http.StatusForbidden)
			return
		}

		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if r.Method == "PATCH" {
			// no need to validate after merge
			data, err = mergeYAML(app.ConfigPath, data)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		} else {
			// validate config
			var tmp struct{}
			if err = yaml.Unmarshal(data, &tmp); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		if err = os.WriteFile(app.ConfigPath, data, 0644); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

	default:
		http.Error(w, "Method not allowed", http.StatusBadRequest)
	}
}

func mergeYAML(file string, patch []byte) ([]byte, error) {
	// missing file is same as empty config
	data, _ := os.ReadFile(file)

	var dst map[string]any
	if err := yaml.Unmarshal(data, &dst); err != nil {
		return nil, err
	}

	var src map[string]any
	if err := yaml.Unmarshal(patch, &src); err != nil {
		return nil, err
	}

	if dst == nil {
		dst = map[string]any{}
	}

	dst = merge(dst, src)

	return yaml.Marshal(dst)
}

func merge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		if dv, ok := dst[k].(map[string]any); ok {
			if sv, ok := v.(map[string]any); ok {
				dst[k] = merge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
