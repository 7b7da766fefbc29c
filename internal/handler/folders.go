package handler

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"playbookd/internal/workspace"
)

// ListFolders returns the automation folders with their playbooks.
func (a *API) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := a.ws.Folders()
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, folders)
}

// GetInventory returns the folder's inventory, parsed and raw.
func (a *API) GetInventory(w http.ResponseWriter, r *http.Request) {
	content, raw, err := a.ws.Inventory(mux.Vars(r)["folder"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"content": content, "raw": raw})
}

// UpdateInventory accepts either {"raw": "..."} or the structured group map
// and rewrites the folder's inventory file.
func (a *API) UpdateInventory(w http.ResponseWriter, r *http.Request) {
	folder := mux.Vars(r)["folder"]
	var body map[string]any
	if !a.decodeBody(w, r, &body) {
		return
	}

	var err error
	if raw, ok := body["raw"].(string); ok {
		err = a.ws.WriteInventoryRaw(folder, raw)
	} else {
		err = a.ws.WriteInventory(folder, groupsFromBody(body))
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetVars returns the folder's vars file, parsed and raw.
func (a *API) GetVars(w http.ResponseWriter, r *http.Request) {
	content, raw, err := a.ws.Vars(mux.Vars(r)["folder"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"content": content, "raw": raw})
}

// UpdateVars accepts either {"raw": "..."} or a structured mapping and
// rewrites the folder's vars file.
func (a *API) UpdateVars(w http.ResponseWriter, r *http.Request) {
	folder := mux.Vars(r)["folder"]
	var body map[string]any
	if !a.decodeBody(w, r, &body) {
		return
	}

	var err error
	if raw, ok := body["raw"].(string); ok {
		err = a.ws.WriteVarsRaw(folder, raw)
	} else {
		err = a.ws.WriteVars(folder, body)
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// groupsFromBody coerces a decoded JSON body into inventory groups. Host
// entries arrive as {"name": ..., "ansible_host": ...} objects; non-string
// values are stringified the way they would appear on an inventory line.
func groupsFromBody(body map[string]any) map[string][]workspace.Host {
	groups := make(map[string][]workspace.Host, len(body))
	for group, v := range body {
		entries, ok := v.([]any)
		if !ok {
			continue
		}
		hosts := make([]workspace.Host, 0, len(entries))
		for _, e := range entries {
			fields, ok := e.(map[string]any)
			if !ok {
				continue
			}
			host := make(workspace.Host, len(fields))
			for k, val := range fields {
				host[k] = fmt.Sprint(val)
			}
			hosts = append(hosts, host)
		}
		groups[group] = hosts
	}
	return groups
}
