// Package catalog provides the embedded runbook catalogue: the YAML
// documents shipped with the binary, loaded and validated at startup
// into a read-only registry.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/siftlabs/sift/pkg/schema"
)

//go:embed runbooks
var runbookFiles embed.FS

// Load parses and validates every embedded runbook document. A document
// that fails validation fails the whole load: the shipped catalogue must
// be internally consistent.
func Load() ([]*schema.Runbook, error) {
	var runbooks []*schema.Runbook

	err := fs.WalkDir(runbookFiles, "runbooks", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}

		data, err := runbookFiles.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading runbook %s: %w", path, err)
		}

		rb, errs := schema.ValidateBytes(data)
		if schema.HasErrors(errs) {
			return fmt.Errorf("runbook %s is invalid: %s", path, errs[0].Message)
		}

		runbooks = append(runbooks, rb)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runbooks, nil
}
