// Package registry loads the intake field registry and the static coaching
// catalogs. The embedded YAML fixtures are the default source; a Notion
// database can override the field registry for no-deploy edits.
package registry

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/coach-intake/internal/model"
)

//go:embed data/fields.yaml
var fieldsFixture []byte

//go:embed data/catalogs.yaml
var catalogsFixture []byte

type fieldsFile struct {
	Fields []model.Field `yaml:"fields"`
}

// LoadEmbeddedFields returns the field registry from the embedded fixture.
func LoadEmbeddedFields() (*model.FieldRegistry, error) {
	return parseFields(fieldsFixture)
}

// LoadFieldsFromFile reads a YAML field registry from the given path.
func LoadFieldsFromFile(path string) (*model.FieldRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read fields file")
	}
	return parseFields(data)
}

func parseFields(data []byte) (*model.FieldRegistry, error) {
	var f fieldsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal fields")
	}
	if len(f.Fields) == 0 {
		return nil, eris.New("registry: fields fixture is empty")
	}
	seen := make(map[string]bool, len(f.Fields))
	for _, fld := range f.Fields {
		if fld.Key == "" {
			return nil, eris.New("registry: field with empty key")
		}
		if seen[fld.Key] {
			return nil, eris.Errorf("registry: duplicate field key %s", fld.Key)
		}
		seen[fld.Key] = true
	}
	return model.NewFieldRegistry(f.Fields), nil
}
