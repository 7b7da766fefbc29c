// Package workspace gives the service its view of the automation folders on
// disk: discovery, inventory and vars file access, and resolution of a
// submitted (folder, playbook, inventory) triple into runnable paths.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"playbookd/internal/model"
)

var (
	inventoryNames = []string{"inventory.ini", "hosts"}
	varsNames      = []string{"vars.yml", "variables.yml"}
)

// Workspace is rooted at the base directory containing the folders.
type Workspace struct {
	base string
}

func New(base string) *Workspace {
	return &Workspace{base: base}
}

// Folder describes one automation folder for list views.
type Folder struct {
	Name         string   `json:"name"`
	Path         string   `json:"path"`
	HasInventory bool     `json:"has_inventory"`
	HasVars      bool     `json:"has_vars"`
	HasPlaybooks bool     `json:"has_playbooks"`
	Playbooks    []string `json:"playbooks"`
}

// Target is a resolved, runnable unit.
type Target struct {
	Folder    string
	Playbook  string
	Inventory string

	Dir           string
	PlaybookPath  string
	InventoryPath string
}

// Folders lists the automation folders under the base directory, sorted by
// name. Hidden directories are skipped. A missing base yields an empty list,
// not an error, matching first-run behavior.
func (w *Workspace) Folders() ([]Folder, error) {
	entries, err := os.ReadDir(w.base)
	if err != nil {
		if os.IsNotExist(err) {
			return []Folder{}, nil
		}
		return nil, fmt.Errorf("reading base dir: %w", err)
	}

	folders := make([]Folder, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(w.base, e.Name())
		playbooks := listPlaybooks(dir)
		folders = append(folders, Folder{
			Name:         e.Name(),
			Path:         dir,
			HasInventory: firstExisting(dir, inventoryNames) != "",
			HasVars:      firstExisting(dir, varsNames) != "",
			HasPlaybooks: len(playbooks) > 0,
			Playbooks:    playbooks,
		})
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

// ResolveTarget validates a submission and returns the paths to run with.
// Any failure is an ErrInvalidTarget: unknown folder, unknown playbook, or a
// missing inventory. An empty inventory name picks the folder's default.
func (w *Workspace) ResolveTarget(folder, playbook, inventory string) (Target, error) {
	if err := checkName(folder); err != nil {
		return Target{}, err
	}
	dir := filepath.Join(w.base, folder)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return Target{}, fmt.Errorf("%w: unknown folder %q", model.ErrInvalidTarget, folder)
	}

	if err := checkName(playbook); err != nil {
		return Target{}, err
	}
	if !isPlaybookName(playbook) {
		return Target{}, fmt.Errorf("%w: %q is not a playbook", model.ErrInvalidTarget, playbook)
	}
	playbookPath := filepath.Join(dir, playbook)
	if _, err := os.Stat(playbookPath); err != nil {
		return Target{}, fmt.Errorf("%w: unknown playbook %q in folder %q", model.ErrInvalidTarget, playbook, folder)
	}

	var inventoryPath string
	if inventory == "" {
		inventoryPath = firstExisting(dir, inventoryNames)
		if inventoryPath == "" {
			return Target{}, fmt.Errorf("%w: folder %q has no inventory", model.ErrInvalidTarget, folder)
		}
		inventory = filepath.Base(inventoryPath)
	} else {
		if err := checkName(inventory); err != nil {
			return Target{}, err
		}
		inventoryPath = filepath.Join(dir, inventory)
		if _, err := os.Stat(inventoryPath); err != nil {
			return Target{}, fmt.Errorf("%w: unknown inventory %q in folder %q", model.ErrInvalidTarget, inventory, folder)
		}
	}

	return Target{
		Folder:        folder,
		Playbook:      playbook,
		Inventory:     inventory,
		Dir:           dir,
		PlaybookPath:  playbookPath,
		InventoryPath: inventoryPath,
	}, nil
}

// Vars returns the folder's vars file, parsed and raw.
func (w *Workspace) Vars(folder string) (map[string]any, string, error) {
	path, err := w.existingFile(folder, varsNames)
	if err != nil {
		return nil, "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	content := map[string]any{}
	if err := yaml.Unmarshal(raw, &content); err != nil {
		return nil, "", fmt.Errorf("parsing %s: %w", path, err)
	}
	if content == nil {
		content = map[string]any{}
	}
	return content, string(raw), nil
}

// WriteVarsRaw replaces the vars file with raw text, after checking it is
// well-formed YAML so a bad edit cannot wedge later reads.
func (w *Workspace) WriteVarsRaw(folder, raw string) error {
	var probe map[string]any
	if err := yaml.Unmarshal([]byte(raw), &probe); err != nil {
		return fmt.Errorf("vars are not valid YAML: %w", err)
	}
	return w.writeFile(folder, varsNames, []byte(raw))
}

// WriteVars replaces the vars file with the structured content.
func (w *Workspace) WriteVars(folder string, content map[string]any) error {
	data, err := yaml.Marshal(content)
	if err != nil {
		return err
	}
	return w.writeFile(folder, varsNames, data)
}

// existingFile returns the first of names that exists in the folder, or
// ErrNotFound. The folder name is validated first.
func (w *Workspace) existingFile(folder string, names []string) (string, error) {
	if err := checkName(folder); err != nil {
		return "", err
	}
	dir := filepath.Join(w.base, folder)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return "", fmt.Errorf("%w: unknown folder %q", model.ErrInvalidTarget, folder)
	}
	if path := firstExisting(dir, names); path != "" {
		return path, nil
	}
	return "", fmt.Errorf("%w: no %s in folder %q", model.ErrNotFound, names[0], folder)
}

// writeFile writes to the existing file among names, or to the canonical
// first name when none exists yet.
func (w *Workspace) writeFile(folder string, names []string, data []byte) error {
	if err := checkName(folder); err != nil {
		return err
	}
	dir := filepath.Join(w.base, folder)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: unknown folder %q", model.ErrInvalidTarget, folder)
	}
	path := firstExisting(dir, names)
	if path == "" {
		path = filepath.Join(dir, names[0])
	}
	return os.WriteFile(path, data, 0o644)
}

func listPlaybooks(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var playbooks []string
	for _, e := range entries {
		if !e.IsDir() && isPlaybookName(e.Name()) {
			playbooks = append(playbooks, e.Name())
		}
	}
	sort.Strings(playbooks)
	return playbooks
}

// isPlaybookName reports whether name is a YAML file that is not one of the
// reserved vars files.
func isPlaybookName(name string) bool {
	ext := filepath.Ext(name)
	if ext != ".yml" && ext != ".yaml" {
		return false
	}
	for _, reserved := range varsNames {
		if name == reserved {
			return false
		}
	}
	return true
}

func firstExisting(dir string, names []string) string {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			return path
		}
	}
	return ""
}

// checkName rejects names that could escape the workspace.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: bad name %q", model.ErrInvalidTarget, name)
	}
	return nil
}
