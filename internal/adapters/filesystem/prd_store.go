package filesystem

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

//go:embed prd_schema.json
var prdSchemaJSON []byte

var prdSchema *jsonschema.Schema

func init() {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(prdSchemaJSON)))
	if err != nil {
		panic("filesystem: invalid embedded prd_schema.json: " + err.Error())
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("prd_schema.json", doc); err != nil {
		panic("filesystem: failed to register prd_schema.json: " + err.Error())
	}
	prdSchema, err = c.Compile("prd_schema.json")
	if err != nil {
		panic("filesystem: failed to compile prd_schema.json: " + err.Error())
	}
}

// PRDStore implements secondary.PRDStore against <cwd>/prd.json.
type PRDStore struct{}

// NewPRDStore creates a PRDStore.
func NewPRDStore() *PRDStore { return &PRDStore{} }

// Load reads and validates <cwd>/prd.json. A missing file, a JSON syntax
// error, or a schema violation are all treated identically as "absent"
// (spec.md §4.E): ok=false, never a hard error.
func (s *PRDStore) Load(cwd string) (*models.PRD, bool) {
	path := filepath.Join(cwd, "prd.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, false
	}
	if err := prdSchema.Validate(doc); err != nil {
		return nil, false
	}

	var prd models.PRD
	if err := json.Unmarshal(data, &prd); err != nil {
		return nil, false
	}
	return &prd, true
}

// Save writes prd to <cwd>/prd.json atomically.
func (s *PRDStore) Save(cwd string, prd *models.PRD) error {
	data, err := json.MarshalIndent(prd, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(cwd, "prd.json"), data, 0644)
}

var _ secondary.PRDStore = (*PRDStore)(nil)
