package orchestrator

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Validation error kinds surfaced to clients.
const (
	ValidationNotExists        = "not_exists"
	ValidationNotDirectory     = "not_directory"
	ValidationDuplicate        = "duplicate"
	ValidationSubfolder        = "subfolder"
	ValidationPermissionDenied = "permission_denied"

	// WarningAncestor flags adding a parent of an already-watched folder.
	WarningAncestor = "ancestor"
)

// ValidationIssue is one error or warning from folder validation.
type ValidationIssue struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ValidationResult is the structured outcome of folder validation; no
// exceptions cross the protocol boundary.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

func (r *ValidationResult) addError(kind, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Type: kind, Message: message})
	r.Valid = false
}

func (r *ValidationResult) addWarning(kind, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Type: kind, Message: message})
}

// forbiddenPrefixes are system directories the daemon refuses to watch.
func forbiddenPrefixes() []string {
	if runtime.GOOS == "windows" {
		return []string{`C:\Windows`, `C:\Program Files`, `C:\Program Files (x86)`}
	}
	return []string{"/etc", "/usr", "/bin", "/sbin", "/var", "/sys", "/proc", "/dev", "/boot", "/lib"}
}

// validateFolderPath checks one candidate against the current fleet.
// existing maps watched folder paths to their names.
func validateFolderPath(path, name string, existing map[string]string) ValidationResult {
	result := ValidationResult{Valid: true, Errors: []ValidationIssue{}, Warnings: []ValidationIssue{}}

	abs, err := filepath.Abs(path)
	if err != nil {
		result.addError(ValidationNotExists, "path cannot be resolved: "+err.Error())
		return result
	}

	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		result.addError(ValidationNotExists, "path does not exist: "+abs)
		return result
	case os.IsPermission(err):
		result.addError(ValidationPermissionDenied, "path is not accessible: "+abs)
		return result
	case err != nil:
		result.addError(ValidationNotExists, "path cannot be read: "+err.Error())
		return result
	case !info.IsDir():
		result.addError(ValidationNotDirectory, "path is not a directory: "+abs)
		return result
	}

	if abs == string(filepath.Separator) {
		result.addError(ValidationNotDirectory, "refusing to watch the filesystem root")
		return result
	}
	for _, prefix := range forbiddenPrefixes() {
		if abs == prefix || strings.HasPrefix(abs, prefix+string(filepath.Separator)) {
			result.addError(ValidationNotDirectory, "refusing to watch system directory: "+abs)
			return result
		}
	}

	// Readability probe: a directory we cannot list cannot be scanned.
	if _, err := os.ReadDir(abs); err != nil {
		result.addError(ValidationPermissionDenied, "directory cannot be listed: "+err.Error())
		return result
	}

	for existingPath, existingName := range existing {
		if existingPath == abs {
			result.addError(ValidationDuplicate, "folder already added: "+abs)
			continue
		}
		if name != "" && existingName == name {
			result.addError(ValidationDuplicate, "folder name already in use: "+name)
			continue
		}
		if isDescendant(abs, existingPath) {
			result.addError(ValidationSubfolder, "path is inside already-watched folder "+existingPath)
			continue
		}
		if isDescendant(existingPath, abs) {
			result.addWarning(WarningAncestor, "path contains already-watched folder "+existingPath)
		}
	}

	return result
}

// isDescendant reports whether child lies strictly inside parent.
func isDescendant(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
